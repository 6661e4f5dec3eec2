// Package main implements taller-server, the daemon hosting the
// shop-floor spool coordination engine: backend wiring, startup schema
// validation, and the ops listener (/healthz, /metrics).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/fabriaustral/tallerflow/internal/taller/colmap"
	"github.com/fabriaustral/tallerflow/internal/taller/config"
	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
	"github.com/fabriaustral/tallerflow/internal/taller/lock"
	"github.com/fabriaustral/tallerflow/internal/taller/machine"
	"github.com/fabriaustral/tallerflow/internal/taller/metrics"
	"github.com/fabriaustral/tallerflow/internal/taller/occupation"
	"github.com/fabriaustral/tallerflow/internal/taller/orchestrator"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
	"github.com/fabriaustral/tallerflow/internal/taller/validate"
)

func main() {
	cfg := config.Default()
	flag.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address for /healthz and /metrics")
	flag.BoolVar(&cfg.Memory, "memory", false, "run against in-memory backends (demo mode)")
	flag.StringVar(&cfg.SpreadsheetID, "spreadsheet-id", envOr("TALLER_SPREADSHEET_ID", ""), "spreadsheet holding the Operaciones, Uniones and EventLog tables")
	flag.StringVar(&cfg.CredentialsFile, "credentials-file", envOr("TALLER_CREDENTIALS_FILE", ""), "service account credentials file")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", envOr("TALLER_REDIS_ADDR", ""), "lock service address, host:port")
	flag.StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("TALLER_REDIS_PASSWORD"), "lock service password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "lock service database")
	flag.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "occupation lock TTL")
	flag.BoolVar(&cfg.EnforceMetrologiaRole, "enforce-metrologia-role", false, "require the metrología role on inspections")
	flag.IntVar(&cfg.Verbosity, "v", 0, "log verbosity")
	flag.Parse()

	if errs := cfg.Validate(); errs.HasErrors() {
		fmt.Fprintln(os.Stderr, "configuration invalid:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", e.Error())
		}
		os.Exit(2)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-cfg.Verbosity))
	z, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = z.Sync() }()
	log := zapr.NewLogger(z).WithName("taller")

	if err := run(cfg, log); err != nil {
		log.Error(err, "taller-server failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logr.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.WallClock

	var rows rowstore.Store
	var locks lock.Service
	if cfg.Memory {
		mem := rowstore.NewMemory()
		seedMemory(mem)
		rows = mem
		locks = lock.NewMemory(clk)
		log.Info("running with in-memory backends")
	} else {
		svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
		if err != nil {
			return fmt.Errorf("sheets client: %w", err)
		}
		rows = rowstore.NewSheets(svc, cfg.SpreadsheetID)

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locks = lock.NewRedis(rdb)
	}

	rows = rowstore.NewResilient(rows, clk, log.WithName("rowstore"))

	// A missing column means the external store drifted; refuse to run.
	cols := colmap.New(rows)
	if err := colmap.ValidateSchema(ctx, cols, []colmap.SchemaCheck{
		{Table: spool.TableOperaciones, Required: spool.RequiredColumns},
		{Table: spool.TableUniones, Required: spool.RequiredUnionColumns},
		{Table: eventlog.Table, Required: eventlog.Columns},
	}); err != nil {
		return err
	}
	log.Info("schema validated")

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	events := eventlog.New(rows, log.WithName("eventlog"))
	occ := occupation.New(locks, rows, clk, log.WithName("occupation"), cfg.LockTTL)
	kernel := validate.New(validate.Policy{EnforceMetrologiaRole: cfg.EnforceMetrologiaRole})
	orch := orchestrator.New(rows, events, occ, kernel, clk, log.WithName("orchestrator"), met)
	log.Info("engine ready", "lockTTL", cfg.LockTTL.String(), "memory", cfg.Memory)

	if cfg.Memory {
		if err := selfCheck(ctx, orch, log); err != nil {
			return fmt.Errorf("demo self-check: %w", err)
		}
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		hctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		if _, err := rows.ReadHeader(hctx, spool.TableOperaciones); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Info("ops listener started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

const demoTag = "SP-001"

// seedMemory creates the three tables and one free spool so demo mode
// has something to coordinate.
func seedMemory(mem *rowstore.Memory) {
	mem.CreateTable(spool.TableOperaciones, spool.RequiredColumns)
	mem.CreateTable(spool.TableUniones, spool.RequiredUnionColumns)
	mem.CreateTable(eventlog.Table, eventlog.Columns)
	_, _ = mem.AddRow(spool.TableOperaciones, []string{
		demoTag, "OT-100", "0", "", "", "", "PENDIENTE", "", "", "", "", "",
	})
}

// selfCheck runs one TOMAR/PAUSAR round trip against the seeded spool
// so a demo run proves the whole pipeline end to end.
func selfCheck(ctx context.Context, orch *orchestrator.Orchestrator, log logr.Logger) error {
	worker := spool.WorkerRef{ID: 1, Name: "Demo Armador", Initials: "DA"}

	res, err := orch.Do(ctx, orchestrator.Request{
		Tag: demoTag, Operacion: machine.OpARM, Accion: machine.ActionTomar, Worker: worker,
	})
	if err != nil {
		return err
	}
	log.Info("demo TOMAR", "estado", res.Estado)

	res, err = orch.Do(ctx, orchestrator.Request{
		Tag: demoTag, Operacion: machine.OpARM, Accion: machine.ActionPausar, Worker: worker, Token: res.Token,
	})
	if err != nil {
		return err
	}
	log.Info("demo PAUSAR", "estado", res.Estado)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

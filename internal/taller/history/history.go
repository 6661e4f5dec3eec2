// Package history folds the event journal into per-spool worker
// sessions. The fold is pure: it consumes an ordered slice of events
// and produces sessions with durations, tolerating the duplicates an
// at-least-once journal can contain.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/fabriaustral/tallerflow/internal/taller/eventlog"
)

// Session is one span of work by one worker on one operation.
type Session struct {
	WorkerID   int
	WorkerName string
	Operation  string
	Start      time.Time
	// End is zero for sessions still open at the end of the journal.
	End      time.Time
	Duration string
}

// Open reports whether the session has no closing event yet.
func (s Session) Open() bool { return s.End.IsZero() }

type sessionKey struct {
	workerID  int
	operation string
}

// Aggregate folds tag-filtered, timestamp-ordered events into
// sessions. A TOMAR opens a session for (worker, operation); PAUSAR,
// COMPLETAR and CANCELAR of the same key close it. A duplicate TOMAR
// for an already-open key is ignored; a close with no open session is
// dropped.
func Aggregate(events []eventlog.Event) []Session {
	open := make(map[sessionKey]*Session)
	var sessions []Session
	var order []sessionKey

	for _, e := range events {
		key := sessionKey{workerID: e.WorkerID, operation: e.Operacion}
		switch classify(e.Kind) {
		case opens:
			if _, ok := open[key]; ok {
				continue
			}
			open[key] = &Session{
				WorkerID:   e.WorkerID,
				WorkerName: e.WorkerName,
				Operation:  e.Operacion,
				Start:      e.Timestamp,
			}
			order = append(order, key)
		case closes:
			s, ok := open[key]
			if !ok {
				continue
			}
			s.End = e.Timestamp
			s.Duration = FormatDuration(s.End.Sub(s.Start))
			sessions = append(sessions, *s)
			delete(open, key)
			order = removeKey(order, key)
		}
	}

	// Unclosed sessions come back open, in opening order.
	for _, key := range order {
		if s, ok := open[key]; ok {
			sessions = append(sessions, *s)
		}
	}
	return sessions
}

type eventClass int

const (
	ignored eventClass = iota
	opens
	closes
)

func classify(kind eventlog.Kind) eventClass {
	k := string(kind)
	switch {
	case strings.HasPrefix(k, "TOMAR_"):
		return opens
	case strings.HasPrefix(k, "PAUSAR_"),
		strings.HasPrefix(k, "COMPLETAR_"),
		strings.HasPrefix(k, "CANCELAR_"),
		kind == eventlog.KindSpoolCancelado:
		return closes
	}
	return ignored
}

// FormatDuration renders "Xh Ym" when hours are present, "Ym"
// otherwise. Seconds are dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	h := minutes / 60
	m := minutes % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func removeKey(keys []sessionKey, key sessionKey) []sessionKey {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

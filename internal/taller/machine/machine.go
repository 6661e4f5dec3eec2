// Package machine implements the per-operation state machines: ARM,
// SOLD, METROLOGIA and REPARACION. Machines are request-scoped: the
// orchestrator hydrates a fresh instance from the persisted witnesses
// on every request and discards it afterwards, so there is no cached
// state to go stale.
//
// Transitions are synchronous. A Fire call runs the transition's
// guard, advances the state, and stages the on-entry side effects into
// an Effects batch; the orchestrator commits that batch as a single
// row-store write under the occupation lock.
package machine

import (
	"fmt"
	"time"

	"github.com/fabriaustral/tallerflow/internal/taller/errdefs"
	"github.com/fabriaustral/tallerflow/internal/taller/rowstore"
	"github.com/fabriaustral/tallerflow/internal/taller/spool"
)

// Operation names one of the four lifecycles.
type Operation string

// The four operations.
const (
	OpARM        Operation = "ARM"
	OpSOLD       Operation = "SOLD"
	OpMetrologia Operation = "METROLOGIA"
	OpReparacion Operation = "REPARACION"
)

// State is a machine state.
type State string

// Machine states across the four operations.
const (
	StatePendiente           State = "PENDIENTE"
	StateEnProgreso          State = "EN_PROGRESO"
	StateCompletado          State = "COMPLETADO"
	StateAprobado            State = "APROBADO"
	StateRechazado           State = "RECHAZADO"
	StateEnReparacion        State = "EN_REPARACION"
	StateReparacionPausada   State = "REPARACION_PAUSADA"
	StatePendienteMetrologia State = "PENDIENTE_METROLOGIA"
	StateBloqueado           State = "BLOQUEADO"
)

// Action labels a transition.
type Action string

// Transition actions.
const (
	ActionTomar     Action = "tomar"
	ActionPausar    Action = "pausar"
	ActionCompletar Action = "completar"
	ActionCancelar  Action = "cancelar"
	ActionAprobar   Action = "aprobar"
	ActionRechazar  Action = "rechazar"
)

// TransitionContext carries the request-scoped inputs a transition
// callback needs: who is acting, when, and the current rework cycle
// read from the persisted display field.
type TransitionContext struct {
	Worker spool.WorkerRef
	Now    time.Time
	Cycle  int
}

// Effects accumulates name-addressed cell writes staged by on-entry
// callbacks. The orchestrator merges them with its own display and
// version writes into one batched row-store call.
type Effects struct {
	names  []string
	values map[string]string
}

// NewEffects returns an empty staging batch.
func NewEffects() *Effects {
	return &Effects{values: make(map[string]string)}
}

// Set stages a cell write. Staging the same column twice keeps the
// last value.
func (e *Effects) Set(name, value string) {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = value
}

// Has reports whether a column is already staged.
func (e *Effects) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Get returns a staged value.
func (e *Effects) Get(name string) (string, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Cells materializes the staged writes against a table row, in staging
// order.
func (e *Effects) Cells(table string, row int) []rowstore.Cell {
	cells := make([]rowstore.Cell, 0, len(e.names))
	for _, name := range e.names {
		cells = append(cells, rowstore.Cell{Table: table, Row: row, Name: name, Value: e.values[name]})
	}
	return cells
}

// Len returns the number of staged writes.
func (e *Effects) Len() int { return len(e.names) }

// Transition is one labeled edge: an optional guard (pure predicate
// over the spool snapshot) and an on-entry callback that stages side
// effects.
type Transition struct {
	From    State
	Action  Action
	To      State
	Guard   func(s *spool.Spool) error
	OnEntry func(s *spool.Spool, in TransitionContext, eff *Effects)
}

// Machine is one hydrated per-operation lifecycle.
type Machine struct {
	op          Operation
	state       State
	transitions []Transition
}

// Op returns the machine's operation.
func (m *Machine) Op() Operation { return m.op }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// find returns the transition for (current state, action), if any.
func (m *Machine) find(action Action) *Transition {
	for i := range m.transitions {
		t := &m.transitions[i]
		if t.From == m.state && t.Action == action {
			return t
		}
	}
	return nil
}

// Can reports whether the action has a transition from the current
// state. Guards are not evaluated.
func (m *Machine) Can(action Action) bool { return m.find(action) != nil }

// Fire runs the transition for action: guard, state advance, on-entry
// staging. The spool snapshot is never mutated; all effects land in
// eff.
func (m *Machine) Fire(action Action, s *spool.Spool, in TransitionContext, eff *Effects) error {
	t := m.find(action)
	if t == nil {
		if m.state == StateCompletado || m.state == StateAprobado {
			return fmt.Errorf("%w: %s is already %s", errdefs.ErrAlreadyCompleted, m.op, m.state)
		}
		return fmt.Errorf("%w: cannot %s %s from %s", errdefs.ErrValidationFailed, action, m.op, m.state)
	}
	if t.Guard != nil {
		if err := t.Guard(s); err != nil {
			return err
		}
	}
	m.state = t.To
	if t.OnEntry != nil {
		t.OnEntry(s, in, eff)
	}
	return nil
}

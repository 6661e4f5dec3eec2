package spool

import (
	"fmt"
	"regexp"
	"strconv"
)

// Role names consumed from the worker directory.
const (
	RoleArmador    = "armador"
	RoleSoldador   = "soldador"
	RoleMetrologia = "metrologia"
)

// WorkerRef identifies a worker as consumed from the external
// directory. The engine does not own worker records.
type WorkerRef struct {
	ID       int
	Name     string
	Initials string
	Roles    map[string]bool
}

// Canonical returns the canonical occupation identity, INITIALS(ID),
// e.g. "MR(93)". This is the form written to Ocupado_Por and to the
// worker columns.
func (w WorkerRef) Canonical() string {
	return fmt.Sprintf("%s(%d)", w.Initials, w.ID)
}

// HasRole reports whether the worker carries the given role.
func (w WorkerRef) HasRole(role string) bool {
	return w.Roles[role]
}

var canonicalPattern = regexp.MustCompile(`^([A-ZÑ]+)\((\d+)\)$`)

// ParseCanonical splits a canonical identity back into initials and
// ID. Used when reconstructing sessions from persisted columns.
func ParseCanonical(s string) (initials string, id int, ok bool) {
	m := canonicalPattern.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], id, true
}

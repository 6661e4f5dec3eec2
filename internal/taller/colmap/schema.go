package colmap

import (
	"context"
	"fmt"
	"strings"
)

// SchemaCheck names the columns a table must expose for the engine to
// operate.
type SchemaCheck struct {
	Table    string
	Required []string
}

// ValidateSchema verifies every check against the live tables. It is
// called once at startup and fails fast: a missing column means the
// external store has drifted and nothing should run against it.
func ValidateSchema(ctx context.Context, m *Map, checks []SchemaCheck) error {
	var problems []string
	for _, check := range checks {
		ok, missing, err := m.ValidateRequired(ctx, check.Table, check.Required)
		if err != nil {
			return fmt.Errorf("schema validation of %q: %w", check.Table, err)
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing %s", check.Table, strings.Join(missing, ", ")))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("schema validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

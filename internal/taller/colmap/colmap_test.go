package colmap

import (
	"context"
	"errors"
	"testing"
)

type fakeHeaders struct {
	headers map[string][]string
	reads   int
}

func (f *fakeHeaders) ReadHeader(_ context.Context, table string) ([]string, error) {
	f.reads++
	h, ok := f.headers[table]
	if !ok {
		return nil, errors.New("no such table")
	}
	return h, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Fecha_Ocupacion", "fechaocupacion"},
		{"fecha ocupacion", "fechaocupacion"},
		{"FECHAOCUPACION", "fechaocupacion"},
		{"  Tag ", "tag"},
		{"Total_Uniones", "totaluniones"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColumnsCachesHeaderRead(t *testing.T) {
	f := &fakeHeaders{headers: map[string][]string{
		"Operaciones": {"Tag", "OT", "Estado_Detalle"},
	}}
	m := New(f)

	for i := 0; i < 3; i++ {
		cols, err := m.Columns(context.Background(), "Operaciones")
		if err != nil {
			t.Fatalf("Columns: %v", err)
		}
		if cols["estadodetalle"] != 2 {
			t.Fatalf("estadodetalle index = %d, want 2", cols["estadodetalle"])
		}
	}
	if f.reads != 1 {
		t.Errorf("header reads = %d, want 1 (cached)", f.reads)
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	f := &fakeHeaders{headers: map[string][]string{"T": {"A", "B"}}}
	m := New(f)

	if _, err := m.Columns(context.Background(), "T"); err != nil {
		t.Fatalf("Columns: %v", err)
	}
	f.headers["T"] = []string{"A", "B", "C"}
	m.Invalidate("T")

	idx, err := m.Index(context.Background(), "T", "C")
	if err != nil {
		t.Fatalf("Index after invalidate: %v", err)
	}
	if idx != 2 {
		t.Errorf("index of C = %d, want 2", idx)
	}
	if f.reads != 2 {
		t.Errorf("header reads = %d, want 2", f.reads)
	}
}

func TestIndexMissingColumn(t *testing.T) {
	f := &fakeHeaders{headers: map[string][]string{"T": {"A"}}}
	m := New(f)
	if _, err := m.Index(context.Background(), "T", "Nope"); err == nil {
		t.Fatal("expected error for missing column")
	}
}

func TestValidateRequired(t *testing.T) {
	f := &fakeHeaders{headers: map[string][]string{
		"Operaciones": {"Tag", "OT", "Ocupado_Por"},
	}}
	m := New(f)

	ok, missing, err := m.ValidateRequired(context.Background(), "Operaciones", []string{"Tag", "Version", "Estado_Detalle"})
	if err != nil {
		t.Fatalf("ValidateRequired: %v", err)
	}
	if ok {
		t.Fatal("expected validation failure")
	}
	if len(missing) != 2 || missing[0] != "Version" || missing[1] != "Estado_Detalle" {
		t.Errorf("missing = %v, want [Version Estado_Detalle]", missing)
	}
}

func TestValidateSchema(t *testing.T) {
	f := &fakeHeaders{headers: map[string][]string{
		"Operaciones": {"Tag", "Version"},
		"Uniones":     {"OT", "N_Union"},
	}}
	m := New(f)

	err := ValidateSchema(context.Background(), m, []SchemaCheck{
		{Table: "Operaciones", Required: []string{"Tag", "Version"}},
		{Table: "Uniones", Required: []string{"OT", "N_Union"}},
	})
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}

	err = ValidateSchema(context.Background(), m, []SchemaCheck{
		{Table: "Operaciones", Required: []string{"Tag", "Estado_Detalle"}},
	})
	if err == nil {
		t.Fatal("expected schema failure for missing Estado_Detalle")
	}
}

package ir

import (
	"testing"
)

func TestSortedConstraintsOrder(t *testing.T) {
	tbl := &Table{
		Name: "t",
		Constraints: []Constraint{
			{Kind: ConstraintCheck, Name: "chk_b"},
			{Kind: ConstraintFK, Columns: []string{"z"}, RefTable: "zz", RefColumns: []string{"id"}},
			{Kind: ConstraintUnique, Name: "uq_b", Columns: []string{"b"}},
			{Kind: ConstraintFK, Columns: []string{"a"}, RefTable: "aa", RefColumns: []string{"id"}},
			{Kind: ConstraintUnique, Name: "uq_a", Columns: []string{"a"}},
			{Kind: ConstraintPK, Columns: []string{"id"}},
			{Kind: ConstraintCheck, Name: "chk_a"},
		},
	}
	got := tbl.SortedConstraints()
	wantKinds := []ConstraintKind{
		ConstraintPK, ConstraintUnique, ConstraintUnique,
		ConstraintFK, ConstraintFK, ConstraintCheck, ConstraintCheck,
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Fatalf("position %d: kind = %s, want %s", i, got[i].Kind, k)
		}
	}
	if got[1].Name != "uq_a" || got[2].Name != "uq_b" {
		t.Error("unique constraints not sorted by name")
	}
	if got[3].RefTable != "aa" || got[4].RefTable != "zz" {
		t.Error("FKs not sorted by ref table")
	}
	if got[5].Name != "chk_a" {
		t.Error("checks not sorted by name")
	}
}

func TestPrimaryKeyFallsBackToColumnFlags(t *testing.T) {
	tbl := &Table{
		Name: "t",
		Columns: []Column{
			{Name: "a", PrimaryKey: true},
			{Name: "b"},
			{Name: "c", PrimaryKey: true},
		},
	}
	pk := tbl.PrimaryKey()
	if len(pk) != 2 || pk[0] != "a" || pk[1] != "c" {
		t.Errorf("pk = %v", pk)
	}
}

func TestSchemaTableNamesSorted(t *testing.T) {
	s := NewSchema()
	s.AddTable(&Table{Name: "zeta"})
	s.AddTable(&Table{Name: "alpha"})
	names := s.TableNames()
	if names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("names = %v", names)
	}
}

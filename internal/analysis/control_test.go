package analysis

import (
	"errors"
	"testing"
)

func cohortTable(labels ...string) *Table {
	rows := make([]Row, len(labels))
	for i, l := range labels {
		rows[i] = row(DefaultCohortColumn, l, "Profit", 100+i)
	}
	return NewTable(rows)
}

func TestControlScoreTable(t *testing.T) {
	cases := []struct {
		label string
		want  int
	}{
		{"Control", 125},    // exact + token + substring
		{"ctrl", 125},       // exact ctrl, nothing else
		{"lessCtrl:0", 80},  // ctrl substring, 0 trailing+token+substring
		{"variantA", 0},     // nothing
		{"exp-ctrl", 30},    // ctrl token+substring, -ctrl substring only
		{"default", 130},    // default exact+token+substring, def substring
		{"0", 125},          // exact + token + substring; no trailing without separator
		{"v10", 5},          // incidental digit
		{"bucket_0", 75},    // trailing + token + substring
		{"CONTROL_group", 25},
	}
	for _, c := range cases {
		if got := ControlScore(c.label); got != c.want {
			t.Fatalf("ControlScore(%q) = %d, want %d", c.label, got, c.want)
		}
	}
}

func TestIdentifyControlPrefersExactMatch(t *testing.T) {
	orders := [][]string{
		{"Control", "variantA", "lessCtrl:0"},
		{"lessCtrl:0", "variantA", "Control"},
		{"variantA", "lessCtrl:0", "Control"},
	}
	for _, labels := range orders {
		got, err := IdentifyControl(cohortTable(labels...), DefaultCohortColumn)
		if err != nil {
			t.Fatalf("%v: %v", labels, err)
		}
		if got != "Control" {
			t.Fatalf("%v: picked %q, want Control", labels, got)
		}
	}
}

func TestIdentifyControlTieGoesToFirst(t *testing.T) {
	got, err := IdentifyControl(cohortTable("a_ctrl", "b_ctrl"), DefaultCohortColumn)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if got != "a_ctrl" {
		t.Fatalf("tie should go to first label, got %q", got)
	}
}

func TestIdentifyControlNoMatch(t *testing.T) {
	_, err := IdentifyControl(cohortTable("variantA", "variantB"), DefaultCohortColumn)
	var nce *NoControlFoundError
	if !errors.As(err, &nce) {
		t.Fatalf("expected NoControlFoundError, got %v", err)
	}
	if nce.Labels != 2 {
		t.Fatalf("Labels = %d, want 2", nce.Labels)
	}
}

func TestIdentifyControlMissingColumn(t *testing.T) {
	tbl := NewTable([]Row{row("Profit", 1)})
	var nce *NoControlFoundError
	if _, err := IdentifyControl(tbl, DefaultCohortColumn); !errors.As(err, &nce) {
		t.Fatalf("expected NoControlFoundError, got %v", err)
	}
}

func TestCohortLabelsNumericCells(t *testing.T) {
	tbl := NewTable([]Row{
		row(DefaultCohortColumn, 0),
		row(DefaultCohortColumn, 1),
		row(DefaultCohortColumn, 0),
	})
	labels := CohortLabels(tbl, DefaultCohortColumn)
	if len(labels) != 2 || labels[0] != "0" || labels[1] != "1" {
		t.Fatalf("labels = %v", labels)
	}
	got, err := IdentifyControl(tbl, DefaultCohortColumn)
	if err != nil || got != "0" {
		t.Fatalf("IdentifyControl = %q, %v", got, err)
	}
}

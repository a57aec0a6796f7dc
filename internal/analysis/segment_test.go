package analysis

import (
	"errors"
	"testing"
)

func TestSegmentTablePartition(t *testing.T) {
	tbl := NewTable([]Row{
		row("region", "US", "v", 1),
		row("region", "US", "v", 2),
		row("region", "EU", "v", 3),
	})
	segs, err := SegmentTable(tbl, []string{"region"})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Name() != "region = US" || segs[1].Name() != "region = EU" {
		t.Fatalf("names = %q, %q", segs[0].Name(), segs[1].Name())
	}
	total := 0
	for _, s := range segs {
		total += s.Table.Len()
	}
	if total != 3 || segs[0].Table.Len() != 2 {
		t.Fatalf("row counts: US=%d EU=%d", segs[0].Table.Len(), segs[1].Table.Len())
	}
}

func TestSegmentTableMultipleDimensions(t *testing.T) {
	tbl := NewTable([]Row{
		row("region", "US", "device", "mobile"),
		row("region", "US", "device", "desktop"),
		row("region", "EU", "device", "mobile"),
		row("region", "US", "device", "mobile"),
	})
	segs, err := SegmentTable(tbl, []string{"region", "device"})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[0].Name() != "region = US, device = mobile" || segs[0].Table.Len() != 2 {
		t.Fatalf("first segment %q has %d rows", segs[0].Name(), segs[0].Table.Len())
	}
	if k := segs[2].Key(); k["region"] != "EU" || k["device"] != "mobile" {
		t.Fatalf("key = %v", k)
	}
}

func TestSegmentTableExactEquality(t *testing.T) {
	tbl := NewTable([]Row{
		row("bucket", 1),
		row("bucket", "1"),
	})
	segs, err := SegmentTable(tbl, []string{"bucket"})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("number 1 and text \"1\" are distinct values, got %d segments", len(segs))
	}
}

func TestSegmentTableErrors(t *testing.T) {
	tbl := NewTable([]Row{row("region", "US")})
	var nde *NoDimensionsError
	if _, err := SegmentTable(tbl, nil); !errors.As(err, &nde) {
		t.Fatalf("expected NoDimensionsError, got %v", err)
	}
	var mce *MissingColumnError
	if _, err := SegmentTable(tbl, []string{"region", "device"}); !errors.As(err, &mce) {
		t.Fatalf("expected MissingColumnError, got %v", err)
	}
	if len(mce.Columns) != 1 || mce.Columns[0] != "device" {
		t.Fatalf("missing = %v", mce.Columns)
	}
}

func TestCompareSegmentsIndependentControl(t *testing.T) {
	tbl := NewTable([]Row{
		row("region", "US", DefaultCohortColumn, "control", "Profit", 100),
		row("region", "US", DefaultCohortColumn, "variantA", "Profit", 120),
		row("region", "EU", DefaultCohortColumn, "variantA", "Profit", 80),
		row("region", "EU", DefaultCohortColumn, "variantB", "Profit", 90),
	})
	out, err := CompareSegments(tbl, []string{"region"}, DefaultCohortColumn, []MetricDefinition{{Name: "Profit"}})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(out) != 2 || out[0].Name() != "region = US" {
		t.Fatalf("unexpected segments %+v", out)
	}
	if out[0].Comparison.Fallback || out[0].Comparison.Rows[0].Variants[0].Change != "+20.00%" {
		t.Fatalf("US comparison = %+v", out[0].Comparison)
	}
	if !out[1].Comparison.Fallback || out[1].Comparison.Source.Len() != 2 {
		t.Fatalf("EU should fall back to its own rows, got %+v", out[1].Comparison)
	}
}

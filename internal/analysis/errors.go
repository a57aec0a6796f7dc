package analysis

import (
	"fmt"
	"strings"
)

// MalformedTreeError indicates the raw result tree is not a well-formed nested
// object or produced no leaf rows. It is not recoverable.
type MalformedTreeError struct {
	Reason string
}

func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed result tree: %s", e.Reason)
}

// NoControlFoundError indicates no cohort label matched the control
// vocabulary. Callers fall back to the unmodified table.
type NoControlFoundError struct {
	Column string
	Labels int
}

func (e *NoControlFoundError) Error() string {
	if e.Labels == 0 {
		return fmt.Sprintf("no control cohort found: column %q missing or empty", e.Column)
	}
	return fmt.Sprintf("no control cohort found among %d labels in %q", e.Labels, e.Column)
}

// NoDimensionsError indicates a segmentation request named no dimensions.
type NoDimensionsError struct{}

func (e *NoDimensionsError) Error() string { return "no dimensions provided for segmentation" }

// MissingColumnError indicates segmentation dimensions absent from the table.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing columns in data: %s", strings.Join(e.Columns, ", "))
}

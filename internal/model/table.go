package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cell is a single condition/action value. A cell is either text or null.
type Cell struct {
	text  string
	valid bool
}

// Text returns a non-null cell holding s.
func Text(s string) Cell { return Cell{text: s, valid: true} }

// Null returns an empty cell.
func Null() Cell { return Cell{} }

func (c Cell) IsNull() bool { return !c.valid }

// String returns the cell text, or "" for a null cell.
func (c Cell) String() string { return c.text }

func (c Cell) MarshalJSON() ([]byte, error) {
	if !c.valid {
		return []byte("null"), nil
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts null, strings, and the numbers/booleans the sheet
// reader emits for typed spreadsheet cells.
func (c *Cell) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = Null()
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Text(s)
	case 't', 'f':
		v, err := strconv.ParseBool(string(b))
		if err != nil {
			return fmt.Errorf("cell: %w", err)
		}
		*c = Text(strconv.FormatBool(v))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("cell: unsupported value %s", b)
		}
		*c = Text(n.String())
	}
	return nil
}

// Row is one rule: a name plus one value per condition/action column.
type Row struct {
	Name   string `json:"name"`
	Values []Cell `json:"values"`
}

// DecisionTable is the editable view of one rules sheet.
//
// ColumnLabels[0] labels the row-name column; every other label has a value
// slot in each row, so len(row.Values) == len(ColumnLabels)-1 always holds.
type DecisionTable struct {
	ColumnLabels   []string `json:"columnLabels"`
	TemplateLabels []string `json:"templateLabels"`
	Rows           []Row    `json:"rows"`
}

// ValueColumns is the number of condition/action columns.
func (t DecisionTable) ValueColumns() int {
	if len(t.ColumnLabels) == 0 {
		return 0
	}
	return len(t.ColumnLabels) - 1
}

// Clone returns a deep copy that shares no storage with t.
func (t DecisionTable) Clone() DecisionTable {
	out := DecisionTable{
		ColumnLabels:   cloneStrings(t.ColumnLabels),
		TemplateLabels: cloneStrings(t.TemplateLabels),
	}
	if t.Rows != nil {
		out.Rows = make([]Row, len(t.Rows))
		for i, r := range t.Rows {
			out.Rows[i] = Row{Name: r.Name}
			if r.Values != nil {
				out.Rows[i].Values = append(make([]Cell, 0, len(r.Values)), r.Values...)
			}
		}
	}
	return out
}

// Equal reports whether t and o hold the same labels and rows.
func (t DecisionTable) Equal(o DecisionTable) bool {
	if !equalStrings(t.ColumnLabels, o.ColumnLabels) ||
		!equalStrings(t.TemplateLabels, o.TemplateLabels) ||
		len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Rows {
		a, b := t.Rows[i], o.Rows[i]
		if a.Name != b.Name || len(a.Values) != len(b.Values) {
			return false
		}
		for j := range a.Values {
			if a.Values[j] != b.Values[j] {
				return false
			}
		}
	}
	return true
}

// Normalize pads or truncates every row to the column count. The backend is
// the authority on shape, so this only repairs ragged payloads on load.
func (t *DecisionTable) Normalize() {
	n := t.ValueColumns()
	for i := range t.Rows {
		v := t.Rows[i].Values
		switch {
		case len(v) > n:
			t.Rows[i].Values = v[:n]
		case len(v) < n:
			for len(v) < n {
				v = append(v, Null())
			}
			t.Rows[i].Values = v
		}
	}
	for len(t.TemplateLabels) < len(t.ColumnLabels) {
		t.TemplateLabels = append(t.TemplateLabels, "")
	}
}

// ColumnKind classifies a column by its label, e.g. "CONDITION_1".
func (t DecisionTable) ColumnKind(col int) ColumnKind {
	if col <= 0 || col >= len(t.ColumnLabels) {
		return ""
	}
	return KindOfLabel(t.ColumnLabels[col])
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

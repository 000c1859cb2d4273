package model

import "strings"

// ColumnKind is the role of a value column in a decision table.
type ColumnKind string

const (
	Condition ColumnKind = "CONDITION"
	Action    ColumnKind = "ACTION"
)

// KindOfLabel infers the kind from a header label; "" if neither.
func KindOfLabel(label string) ColumnKind {
	up := strings.ToUpper(label)
	switch {
	case strings.Contains(up, string(Condition)):
		return Condition
	case strings.Contains(up, string(Action)):
		return Action
	}
	return ""
}

// Placeholder is the hint shown in an empty cell of the given kind.
func (k ColumnKind) Placeholder() string {
	switch k {
	case Condition:
		return "Enter condition value"
	case Action:
		return "Enter action value"
	}
	return "Enter value"
}

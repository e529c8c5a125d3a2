package model

import "strings"

// Source identifies a known auction-invoice format.
type Source string

const (
	SourceCopart  Source = "COPART"
	SourceIAA     Source = "IAA"
	SourceManheim Source = "MANHEIM"
	SourceUnknown Source = "UNKNOWN"
)

// ParseSource maps a format code to a Source, case-insensitively.
// Unrecognized codes map to SourceUnknown.
func ParseSource(code string) Source {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case string(SourceCopart):
		return SourceCopart
	case string(SourceIAA):
		return SourceIAA
	case string(SourceManheim):
		return SourceManheim
	default:
		return SourceUnknown
	}
}

// IsKnown reports whether s is one of the recognized formats.
func (s Source) IsKnown() bool {
	return s != SourceUnknown && s != ""
}

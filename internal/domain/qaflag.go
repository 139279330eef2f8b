package domain

import "time"

// QAFlagSeverity is the severity assigned by the deterministic rule checker.
type QAFlagSeverity string

const (
	QAFlagSeverityError   QAFlagSeverity = "error"
	QAFlagSeverityWarning QAFlagSeverity = "warning"
)

// QAFlag is one finding from the deterministic rule checker. Flags are
// replaced wholesale each time a version's quality report is generated.
type QAFlag struct {
	ID        string
	VersionID string
	StoryID   string
	RuleID    string
	Severity  QAFlagSeverity
	Message   string
	CreatedAt time.Time
}

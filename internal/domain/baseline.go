package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultBaselineLabelTemplate formats baseline labels; {N} is replaced
// with the baseline's version number.
const DefaultBaselineLabelTemplate = "Baseline v{N}"

// Baseline is an immutable, numbered snapshot of a pack version.
// Version numbers are strictly increasing per pack, starting at 1.
// Baselines are never mutated or deleted by normal operation.
type Baseline struct {
	ID            string
	WorkspaceID   string
	PackID        string
	VersionID     string
	VersionNumber int64
	VersionLabel  string
	CreatedBy     string
	Note          string

	// Snapshot is the denormalized JSON copy of the version's stories and
	// criteria at snapshot time, so later edits to the live pack cannot
	// retroactively alter history.
	Snapshot []byte

	// ArchiveKey is the object-storage key of the archived snapshot copy,
	// empty when archival is not configured.
	ArchiveKey string

	CreatedAt time.Time
}

// FormatBaselineLabel renders a label template for a version number.
// An empty template falls back to the default.
func FormatBaselineLabel(template string, n int64) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultBaselineLabelTemplate
	}
	return strings.ReplaceAll(template, "{N}", strconv.FormatInt(n, 10))
}

// ValidateBaseline validates a Baseline instance
func ValidateBaseline(b *Baseline) error {
	if b == nil {
		return fmt.Errorf("baseline cannot be nil")
	}
	if b.ID == "" {
		return fmt.Errorf("baseline ID is required")
	}
	if b.WorkspaceID == "" {
		return fmt.Errorf("baseline WorkspaceID is required")
	}
	if b.PackID == "" {
		return fmt.Errorf("baseline PackID is required")
	}
	if b.VersionNumber <= 0 {
		return fmt.Errorf("baseline VersionNumber must be greater than 0")
	}
	if b.VersionLabel == "" {
		return fmt.Errorf("baseline VersionLabel is required")
	}
	return nil
}

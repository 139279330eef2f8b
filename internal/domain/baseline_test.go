package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBaselineLabel(t *testing.T) {
	t.Run("default template", func(t *testing.T) {
		assert.Equal(t, "Baseline v1", FormatBaselineLabel("", 1))
		assert.Equal(t, "Baseline v12", FormatBaselineLabel("", 12))
	})

	t.Run("custom template", func(t *testing.T) {
		assert.Equal(t, "Release 3 snapshot", FormatBaselineLabel("Release {N} snapshot", 3))
	})

	t.Run("template without placeholder is used verbatim", func(t *testing.T) {
		assert.Equal(t, "Frozen", FormatBaselineLabel("Frozen", 7))
	})
}

func TestValidateBaseline(t *testing.T) {
	valid := func() *Baseline {
		return &Baseline{
			ID:            "baseline-1",
			WorkspaceID:   "workspace-1",
			PackID:        "pack-1",
			VersionID:     "version-1",
			VersionNumber: 1,
			VersionLabel:  "Baseline v1",
		}
	}

	t.Run("valid baseline passes", func(t *testing.T) {
		assert.NoError(t, ValidateBaseline(valid()))
	})

	t.Run("version number zero fails", func(t *testing.T) {
		b := valid()
		b.VersionNumber = 0
		assert.Error(t, ValidateBaseline(b))
	})

	t.Run("missing pack fails", func(t *testing.T) {
		b := valid()
		b.PackID = ""
		assert.Error(t, ValidateBaseline(b))
	})
}

func TestHealthStatusForScore(t *testing.T) {
	tests := []struct {
		score int
		want  HealthStatus
	}{
		{100, HealthStatusHealthy},
		{80, HealthStatusHealthy},
		{79, HealthStatusStale},
		{60, HealthStatusStale},
		{59, HealthStatusAtRisk},
		{40, HealthStatusAtRisk},
		{39, HealthStatusOutdated},
		{0, HealthStatusOutdated},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HealthStatusForScore(tt.score), "score %d", tt.score)
	}
}

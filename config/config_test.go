package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYSIS_QUORUM", "")
	t.Setenv("ANALYSIS_RUN_TIMEOUT", "")
	t.Setenv("GO_ENV", "development")

	cfg := Load()

	assert.Equal(t, 3, cfg.Analysis.Quorum)
	assert.Equal(t, 5*time.Minute, cfg.Analysis.RunTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANALYSIS_QUORUM", "4")
	t.Setenv("ANALYSIS_RUN_TIMEOUT", "90s")
	t.Setenv("REPORT_ARCHIVE", "true")
	t.Setenv("GO_ENV", "production")
	t.Setenv("STORE_BACKEND", "memory")

	cfg := Load()

	assert.Equal(t, 4, cfg.Analysis.Quorum)
	assert.Equal(t, 90*time.Second, cfg.Analysis.RunTimeout)
	assert.True(t, cfg.Analysis.ArchiveReports)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "memory", cfg.Database.Backend)
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "three")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}

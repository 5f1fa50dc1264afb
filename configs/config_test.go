package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/scoring"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.False(t, cfg.WriteDB)

	s := cfg.Scoring()
	def := scoring.DefaultConfig()
	assert.Equal(t, def.Folds, s.Folds)
	assert.Equal(t, def.Seed, s.Seed)
	assert.Equal(t, def.Thresholds, s.Thresholds)
	assert.Equal(t, def.Boosting, s.Boosting)
	assert.Equal(t, def.SMOTE, s.SMOTE)

	r := cfg.RiskThresholds()
	assert.Equal(t, 0.60, r.High)
	assert.Equal(t, 0.35, r.Medium)
	assert.False(t, cfg.LLMClient().Enabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:churn.db")
	t.Setenv("READ_DATABASE_URLS", " r1 , ,r2")
	t.Setenv("N_FOLDS", "3")
	t.Setenv("RANDOM_STATE", "7")
	t.Setenv("WRITE_DB", "true")
	t.Setenv("CREATE_VIEW", "1")
	t.Setenv("RESAMPLING_THRESHOLD", "0.45")
	t.Setenv("CB_ITERATIONS", "100")
	t.Setenv("DB_TABLE", "scores_v2")
	t.Setenv("LOG_MODE", "dev")
	t.Setenv("OPENAI_API_KEY", "sk-x")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	s := cfg.Scoring()
	assert.Equal(t, 3, s.Folds)
	assert.Equal(t, int64(7), s.Seed)
	assert.True(t, s.WriteDB)
	assert.True(t, s.CreateView)
	assert.Equal(t, 0.45, s.Thresholds.Resampling)
	assert.Equal(t, 0.62, s.Thresholds.Weighted)
	assert.Equal(t, 100, s.Boosting.Iterations)

	db := cfg.Database()
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, []string{"r1", "r2"}, db.ReadURLs)
	assert.Equal(t, "scores_v2", db.ScoreTable)
	assert.True(t, db.LogSQL)
	assert.True(t, cfg.LLMClient().Enabled())
}

func TestLoadConfigReportsEveryBadValue(t *testing.T) {
	t.Setenv("N_FOLDS", "five")
	t.Setenv("WRITE_DB", "maybe")
	t.Setenv("JWT_TTL", "tomorrow")
	t.Setenv("DB_DRIVER", "postgres")

	_, err := LoadConfig()
	require.Error(t, err)
	for _, key := range []string{"N_FOLDS", "WRITE_DB", "JWT_TTL", "DB_DRIVER"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadConfigRejectsInvalidScoring(t *testing.T) {
	t.Setenv("N_FOLDS", "1")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "folds")
}

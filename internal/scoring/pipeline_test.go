package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/database"
	"churn-insight/internal/dataset"
	"churn-insight/internal/features"
	"churn-insight/internal/logger"
	"churn-insight/internal/ml"
	"churn-insight/internal/rfm"
)

func quickConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Boosting.Iterations = 40
	cfg.Boosting.Depth = 4
	cfg.Boosting.LearningRate = 0.15
	cfg.Boosting.EarlyStopping = 15
	dir := t.TempDir()
	cfg.OutputCSV = filepath.Join(dir, "assets", "churn_scores.csv")
	cfg.ModelsDir = filepath.Join(dir, "models")
	return cfg
}

func openStore(t *testing.T) *database.DBManager {
	t.Helper()
	m, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func stepClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("trains two variants over five folds")
	}
	ctx := context.Background()
	cfg := quickConfig(t)
	cfg.WriteDB, cfg.CreateView = true, true
	store := openStore(t)

	table := dataset.Synthetic(1000, 0.2, 42)
	records, err := features.ParseTable(table)
	require.NoError(t, err)
	segments := rfm.Compute(records, time.Now())
	require.NoError(t, store.UpsertRFMResults(ctx, rfm.Rows(segments)))

	p := NewPipeline(cfg, store, store, logger.Nop())
	p.now = stepClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	res, err := p.Run(ctx, table)
	require.NoError(t, err)

	require.Len(t, res.Reports, 2)
	for _, r := range res.Reports {
		require.False(t, r.Failed(), "variant %s: %v", r.Variant, r.Err)
		assert.Len(t, r.Folds, 5)
		assert.Greater(t, r.Accuracy.Mean, 0.5)
	}
	assert.Contains(t, Variants, res.Winner.Variant)
	assert.FileExists(t, res.ArtifactPath)
	assert.FileExists(t, strings.TrimSuffix(res.ArtifactPath, ".gob")+".meta.json")
	assert.True(t, res.Output.WroteDB)
	assert.True(t, res.Output.ViewCreated)

	art, path, err := ml.LoadLatestArtifact(cfg.ModelsDir)
	require.NoError(t, err)
	assert.Equal(t, res.ArtifactPath, path)
	assert.Equal(t, string(res.Winner.Variant), art.Variant)

	export, err := dataset.ReadCSV(cfg.OutputCSV)
	require.NoError(t, err)
	require.Equal(t, 1000, export.Len())
	seen := map[string]bool{}
	for i := 0; i < export.Len(); i++ {
		p, err := strconv.ParseFloat(export.Value(i, "churn_probability"), 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		seen[export.Value(i, "customer_id")] = true
	}
	assert.Len(t, seen, 1000)

	stored, err := store.RFMResults(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1000)
	total := 0
	for _, n := range rfm.Counts(segments) {
		total += n
	}
	assert.Equal(t, 1000, total)

	scores, err := store.ChurnScores(ctx)
	require.NoError(t, err)
	assert.Len(t, scores, 1000)

	summaries, err := store.SegmentSummaries(ctx)
	require.NoError(t, err)
	var covered int64
	for _, s := range summaries {
		covered += s.Customers
		assert.NotNil(t, s.AvgChurnProbability)
	}
	assert.Equal(t, int64(1000), covered)

	run, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, RunStatusSucceeded, run.Status)
	assert.Equal(t, 1000, run.ScoredRows)

	// a smaller population replaces the score table outright
	smaller := dataset.Synthetic(400, 0.2, 42)
	res2, err := p.Run(ctx, smaller)
	require.NoError(t, err)
	assert.NotEqual(t, res.ArtifactPath, res2.ArtifactPath)
	scores, err = store.ChurnScores(ctx)
	require.NoError(t, err)
	assert.Len(t, scores, 400)
}

func TestPipelineCSVOnlyLeavesDatabaseAlone(t *testing.T) {
	if testing.Short() {
		t.Skip("trains two variants over five folds")
	}
	ctx := context.Background()
	cfg := quickConfig(t)
	cfg.Boosting.Iterations = 15
	store := openStore(t)

	p := NewPipeline(cfg, store, store, logger.Nop())
	res, err := p.Run(ctx, dataset.Synthetic(300, 0.2, 5))
	require.NoError(t, err)
	assert.False(t, res.Output.WroteDB)
	assert.FileExists(t, cfg.OutputCSV)

	scores, err := store.ChurnScores(ctx)
	require.NoError(t, err)
	assert.Empty(t, scores)
	_, err = store.LatestRun(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPipelineRejectsMissingColumns(t *testing.T) {
	cfg := quickConfig(t)
	table := dataset.NewTable([]string{"CustomerId", "Age"})
	require.NoError(t, table.Append([]string{"1", "40"}))

	_, err := NewPipeline(cfg, nil, nil, logger.Nop()).Run(context.Background(), table)
	var missing *features.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Columns, "Exited")

	_, statErr := os.Stat(cfg.OutputCSV)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineAllVariantsFailOnSingleClass(t *testing.T) {
	cfg := quickConfig(t)
	table := dataset.Synthetic(60, 0, 3)

	_, err := NewPipeline(cfg, nil, nil, logger.Nop()).Run(context.Background(), table)
	var all *AllVariantsFailedError
	require.ErrorAs(t, err, &all)
	assert.Len(t, all.Failures, 2)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	cfg := quickConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(cfg, nil, nil, logger.Nop()).Run(ctx, dataset.Synthetic(200, 0.2, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"churn-insight/internal/dataset"
	"churn-insight/internal/features"
	"churn-insight/internal/logger"
	"churn-insight/internal/ml"
	"churn-insight/internal/models"
)

// RunRecorder stores one row per pipeline run.
type RunRecorder interface {
	InsertRun(ctx context.Context, run *models.PipelineRun) error
}

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Result is what a successful run produced.
type Result struct {
	RunID        string
	Reports      []*VariantReport
	Winner       *VariantReport
	ArtifactPath string
	Scores       []models.ChurnScore
	Output       WriteOutcome
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Pipeline turns a customer table into a persisted model and score table.
type Pipeline struct {
	cfg    Config
	store  ScoreStore
	runs   RunRecorder
	log    *logger.Logger
	now    func() time.Time
	writer *ScoreWriter
}

// NewPipeline wires a scoring pipeline. store and runs may be nil when
// cfg.WriteDB is off.
func NewPipeline(cfg Config, store ScoreStore, runs RunRecorder, log *logger.Logger) *Pipeline {
	log = log.With("component", "scoring")
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		runs:   runs,
		log:    log,
		now:    time.Now,
		writer: NewScoreWriter(cfg, store, log),
	}
}

// Run executes feature engineering, cross-validated selection, the final fit
// and score publication. Outputs written before a failure stay in place.
func (p *Pipeline) Run(ctx context.Context, table *dataset.Table) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	res := &Result{RunID: uuid.NewString(), StartedAt: p.now()}
	log := p.log.With("run_id", res.RunID)
	log.Info("scoring run started", "folds", p.cfg.Folds, "seed", p.cfg.Seed,
		"write_db", p.cfg.WriteDB, "create_view", p.cfg.CreateView)

	err := p.run(ctx, log, table, res)
	res.FinishedAt = p.now()
	p.record(ctx, log, res, err)
	if err != nil {
		log.Error("scoring run failed", "error", err)
		return nil, err
	}
	log.Info("scoring run finished", "variant", res.Winner.Variant,
		"accuracy", res.Winner.Accuracy.String(), "artifact", res.ArtifactPath,
		"scored", len(res.Scores), "elapsed", res.FinishedAt.Sub(res.StartedAt).String())
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *logger.Logger, table *dataset.Table, res *Result) error {
	records, err := features.Engineer(table)
	if err != nil {
		return err
	}
	x, err := features.BuildFrame(records)
	if err != nil {
		return fmt.Errorf("build feature frame: %w", err)
	}
	y := features.Labels(records)
	log.Info("features built", "rows", x.Rows(), "features", x.Names)

	reports, err := NewEvaluator(p.cfg, log).EvaluateAll(ctx, x, y)
	if err != nil {
		return err
	}
	res.Reports = reports
	best, err := Select(reports)
	if err != nil {
		return err
	}
	res.Winner = best
	log.Info("variant selected", "variant", best.Variant,
		"resampling_accuracy", accuracyOf(reports, VariantResampling),
		"weighted_accuracy", accuracyOf(reports, VariantWeighted))

	if err := ctx.Err(); err != nil {
		return err
	}
	model, err := FinalFit(x, y, best.Variant, p.cfg)
	if err != nil {
		return err
	}
	art := ml.NewArtifact(string(best.Variant), model, res.StartedAt)
	meta := ArtifactMeta{
		Variant:    best.Variant,
		Features:   art.Features,
		BuiltAt:    art.BuiltAt,
		RunID:      res.RunID,
		Seed:       p.cfg.Seed,
		Folds:      p.cfg.Folds,
		Rows:       x.Rows(),
		Thresholds: p.cfg.Thresholds,
		Reports:    reports,
		Importance: art.FeatureImportance(),
	}
	res.ArtifactPath, err = ml.SaveArtifact(p.cfg.ModelsDir, art, meta)
	if err != nil {
		return err
	}
	log.Info("model artifact saved", "path", res.ArtifactPath, "trees", len(model.Trees))

	res.Scores, err = ScorePopulation(art, x, features.CustomerIDs(records), p.now())
	if err != nil {
		return fmt.Errorf("score population: %w", err)
	}
	res.Output, err = p.writer.Write(ctx, res.Scores)
	return err
}

func (p *Pipeline) record(ctx context.Context, log *logger.Logger, res *Result, runErr error) {
	if !p.cfg.WriteDB || p.runs == nil {
		return
	}
	run := &models.PipelineRun{
		ID:                 res.RunID,
		StartedAt:          res.StartedAt,
		FinishedAt:         res.FinishedAt,
		Status:             RunStatusSucceeded,
		ResamplingAccuracy: accuracyOf(res.Reports, VariantResampling),
		WeightedAccuracy:   accuracyOf(res.Reports, VariantWeighted),
		ArtifactPath:       res.ArtifactPath,
		ScoredRows:         len(res.Scores),
	}
	if res.Winner != nil {
		run.Variant = string(res.Winner.Variant)
	}
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}
	// the run row is written even if ctx was cancelled mid-run
	if err := p.runs.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("could not record pipeline run", "error", err)
	}
}

func accuracyOf(reports []*VariantReport, v Variant) float64 {
	for _, r := range reports {
		if r.Variant == v {
			return r.MeanAccuracy()
		}
	}
	return failedScore
}

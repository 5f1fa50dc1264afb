package services

import (
	"context"
	"errors"

	"churn-insight/internal/database"
	"churn-insight/internal/dataset"
	"churn-insight/internal/logger"
	"churn-insight/internal/scoring"
)

// ScoringService runs the churn pipeline against a CSV export or the stored
// customer table and announces the outcome.
type ScoringService struct {
	cfg scoring.Config
	db  *database.DBManager
	n   notifier
	log *logger.Logger
}

// NewScoringService wires the pipeline. db may be nil when the run neither
// reads from nor writes to the table store.
func NewScoringService(cfg scoring.Config, db *database.DBManager, cache Invalidator, events EventSink, log *logger.Logger) *ScoringService {
	return &ScoringService{cfg: cfg, db: db, n: notifier{cache: cache, events: events}, log: log}
}

// PipelineSummary is the part of a run result worth publishing.
type PipelineSummary struct {
	RunID        string                   `json:"run_id"`
	Variant      scoring.Variant          `json:"variant"`
	Reports      []*scoring.VariantReport `json:"reports"`
	ArtifactPath string                   `json:"artifact_path"`
	ScoredRows   int                      `json:"scored_rows"`
	CSVPath      string                   `json:"csv_path"`
	WroteDB      bool                     `json:"wrote_db"`
	ViewCreated  bool                     `json:"view_created"`
}

func summarize(res *scoring.Result) PipelineSummary {
	return PipelineSummary{
		RunID:        res.RunID,
		Variant:      res.Winner.Variant,
		Reports:      res.Reports,
		ArtifactPath: res.ArtifactPath,
		ScoredRows:   len(res.Scores),
		CSVPath:      res.Output.CSVPath,
		WroteDB:      res.Output.WroteDB,
		ViewCreated:  res.Output.ViewCreated,
	}
}

func (s *ScoringService) RunCSV(ctx context.Context, path string) (*PipelineSummary, error) {
	t, err := dataset.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, t)
}

// RunStored scores the customers currently in bank_customer.
func (s *ScoringService) RunStored(ctx context.Context) (*PipelineSummary, error) {
	if s.db == nil {
		return nil, errors.New("no table store configured")
	}
	t, err := s.db.LoadCustomerTable(ctx)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, t)
}

func (s *ScoringService) Run(ctx context.Context, t *dataset.Table) (*PipelineSummary, error) {
	var (
		store scoring.ScoreStore
		runs  scoring.RunRecorder
	)
	if s.db != nil {
		store, runs = s.db, s.db
	}
	res, err := scoring.NewPipeline(s.cfg, store, runs, s.log).Run(ctx, t)
	if err != nil {
		s.n.notify(ctx, newEvent(EventPipelineFailed, "", map[string]string{"error": err.Error()}))
		return nil, err
	}
	sum := summarize(res)
	s.n.notify(ctx, newEvent(EventPipelineFinished, res.RunID, sum))
	return &sum, nil
}

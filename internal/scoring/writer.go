package scoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"churn-insight/internal/database"
	"churn-insight/internal/dataset"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
)

// ScoreStore is the table store side of the score writer.
type ScoreStore interface {
	ReplaceChurnScores(ctx context.Context, scores []models.ChurnScore) error
	CreateRFMScoreView(ctx context.Context) error
}

// WriteOutcome reports which optional outputs were produced.
type WriteOutcome struct {
	CSVPath     string
	WroteDB     bool
	ViewCreated bool
}

// ScoreWriter publishes a full-population score table.
type ScoreWriter struct {
	cfg   Config
	store ScoreStore
	log   *logger.Logger
}

func NewScoreWriter(cfg Config, store ScoreStore, log *logger.Logger) *ScoreWriter {
	return &ScoreWriter{cfg: cfg, store: store, log: log.With("component", "score_writer")}
}

// Write always exports the CSV. With WriteDB it replaces the score table
// contents, and with CreateView it then (re)creates the RFM join view. A
// missing RFM table only skips the view.
func (w *ScoreWriter) Write(ctx context.Context, scores []models.ChurnScore) (WriteOutcome, error) {
	out := WriteOutcome{CSVPath: w.cfg.OutputCSV}
	if err := dataset.WriteCSV(w.cfg.OutputCSV, ScoresTable(scores)); err != nil {
		return out, fmt.Errorf("write score export %s: %w", w.cfg.OutputCSV, err)
	}
	w.log.Info("score export written", "path", w.cfg.OutputCSV, "rows", len(scores))

	if !w.cfg.WriteDB {
		return out, nil
	}
	if w.store == nil {
		return out, errors.New("score table write requested without a table store")
	}
	if err := w.store.ReplaceChurnScores(ctx, scores); err != nil {
		return out, fmt.Errorf("replace churn scores: %w", err)
	}
	out.WroteDB = true
	w.log.Info("score table replaced", "rows", len(scores))

	if !w.cfg.CreateView {
		return out, nil
	}
	if err := w.store.CreateRFMScoreView(ctx); err != nil {
		if errors.Is(err, database.ErrViewDependencyMissing) {
			w.log.Warn("skipping rfm score view", "reason", err.Error())
			return out, nil
		}
		return out, fmt.Errorf("create rfm score view: %w", err)
	}
	out.ViewCreated = true
	w.log.Info("rfm score view created", "view", database.RFMScoreView)
	return out, nil
}

// ScoresTable lays scores out as the two-column export.
func ScoresTable(scores []models.ChurnScore) *dataset.Table {
	t := dataset.NewTable([]string{"customer_id", "churn_probability"})
	for _, s := range scores {
		_ = t.Append([]string{
			strconv.FormatInt(s.CustomerID, 10),
			strconv.FormatFloat(s.ChurnProbability, 'f', -1, 64),
		})
	}
	return t
}

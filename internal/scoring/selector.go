package scoring

import (
	"context"
	"errors"
	"fmt"

	"churn-insight/internal/logger"
	"churn-insight/internal/ml"
)

// FoldMetrics are the scores of one validation fold.
type FoldMetrics struct {
	Fold          int `json:"fold"`
	ml.Scores
	BestIteration int `json:"best_iteration"`
	TrainRows     int `json:"train_rows"`
	TestRows      int `json:"test_rows"`
}

// VariantReport is the cross-validated outcome of one training variant.
type VariantReport struct {
	Variant   Variant       `json:"variant"`
	Threshold float64       `json:"threshold"`
	Folds     []FoldMetrics `json:"folds,omitempty"`

	Accuracy  ml.Summary `json:"accuracy"`
	Precision ml.Summary `json:"precision"`
	Recall    ml.Summary `json:"recall"`
	F1        ml.Summary `json:"f1"`
	ROCAUC    ml.Summary `json:"roc_auc"`

	// F1-optimal cutoff over the pooled out-of-fold probabilities. Reported only.
	OOFBestThreshold float64 `json:"oof_best_threshold"`
	OOFBestF1        float64 `json:"oof_best_f1"`

	Err      error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// failedScore ranks a failed variant below any real accuracy.
const failedScore = -1.0

func (r *VariantReport) Failed() bool { return r == nil || r.Err != nil }

// MeanAccuracy is the selection score, or -1 for a failed variant.
func (r *VariantReport) MeanAccuracy() float64 {
	if r.Failed() {
		return failedScore
	}
	return r.Accuracy.Mean
}

func failedReport(v Variant, th float64, err error) *VariantReport {
	return &VariantReport{Variant: v, Threshold: th, Err: err, ErrorMsg: err.Error()}
}

// Evaluator runs stratified K-fold cross-validation for one variant at a time.
type Evaluator struct {
	cfg Config
	log *logger.Logger
}

func NewEvaluator(cfg Config, log *logger.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, log: log.With("component", "cv")}
}

// Evaluate cross-validates variant on X/y. Resampling only ever touches the
// training partition of a fold. A fold that has started runs to completion;
// ctx is checked between folds.
func (e *Evaluator) Evaluate(ctx context.Context, x *ml.Frame, y []int, variant Variant) (*VariantReport, error) {
	folds, err := ml.StratifiedKFold(y, e.cfg.Folds, e.cfg.Seed)
	if err != nil {
		return nil, &FoldError{Variant: variant, Fold: 0, Err: err}
	}
	th := e.cfg.Thresholds.For(variant)
	params := e.cfg.boostingFor(variant)
	oof := make([]float64, len(y))

	var acc, prec, rec, f1, auc []float64
	report := &VariantReport{Variant: variant, Threshold: th}

	for k, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		train, err := x.Subset(fold.Train)
		if err != nil {
			return nil, &FoldError{Variant: variant, Fold: k, Err: err}
		}
		test, err := x.Subset(fold.Test)
		if err != nil {
			return nil, &FoldError{Variant: variant, Fold: k, Err: err}
		}
		yTrain, yTest := pick(y, fold.Train), pick(y, fold.Test)

		if variant == VariantResampling {
			train, yTrain, err = e.cfg.smote().Resample(train, yTrain)
			if err != nil {
				return nil, &ResamplingUnavailableError{Variant: variant, Fold: k, Cause: err}
			}
		}

		model, err := ml.Fit(train, yTrain, test, yTest, params)
		if err != nil {
			return nil, &FoldError{Variant: variant, Fold: k, Err: err}
		}
		proba, err := model.Predict(test)
		if err != nil {
			return nil, &FoldError{Variant: variant, Fold: k, Err: err}
		}
		for i, row := range fold.Test {
			oof[row] = proba[i]
		}

		s := ml.Evaluate(yTest, proba, th)
		report.Folds = append(report.Folds, FoldMetrics{
			Fold:          k + 1,
			Scores:        s,
			BestIteration: model.BestIteration,
			TrainRows:     train.Rows(),
			TestRows:      test.Rows(),
		})
		acc, prec, rec = append(acc, s.Accuracy), append(prec, s.Precision), append(rec, s.Recall)
		f1, auc = append(f1, s.F1), append(auc, s.ROCAUC)

		e.log.Debug("fold finished", "variant", variant, "fold", k+1,
			"accuracy", s.Accuracy, "f1", s.F1, "roc_auc", s.ROCAUC, "best_iteration", model.BestIteration)
	}

	report.Accuracy = ml.Summarize(acc)
	report.Precision = ml.Summarize(prec)
	report.Recall = ml.Summarize(rec)
	report.F1 = ml.Summarize(f1)
	report.ROCAUC = ml.Summarize(auc)

	grid := ml.ThresholdGrid(e.cfg.Grid.Lo, e.cfg.Grid.Hi, e.cfg.Grid.Steps)
	report.OOFBestThreshold, report.OOFBestF1 = ml.BestF1Threshold(y, oof, grid)
	return report, nil
}

// EvaluateAll cross-validates every variant. A failing variant is logged and
// reported with a -1 score; cancellation stops the run.
func (e *Evaluator) EvaluateAll(ctx context.Context, x *ml.Frame, y []int) ([]*VariantReport, error) {
	reports := make([]*VariantReport, 0, len(Variants))
	for _, v := range Variants {
		e.log.Info("evaluating variant", "variant", v, "folds", e.cfg.Folds)
		r, err := e.Evaluate(ctx, x, y, v)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			e.log.Error("variant failed", "variant", v, "error", err)
			reports = append(reports, failedReport(v, e.cfg.Thresholds.For(v), err))
			continue
		}
		e.log.Info("variant evaluated", "variant", v,
			"accuracy", r.Accuracy.String(), "f1", r.F1.String(),
			"precision", r.Precision.String(), "recall", r.Recall.String(),
			"roc_auc", r.ROCAUC.String(), "oof_best_threshold", fmt.Sprintf("%.3f", r.OOFBestThreshold))
		reports = append(reports, r)
	}
	return reports, nil
}

// Select picks the variant with the higher mean accuracy. Reports are
// compared in Variants order and an equal score keeps the earlier one, so
// resampling wins ties. If every variant failed there is no winner.
func Select(reports []*VariantReport) (*VariantReport, error) {
	var best *VariantReport
	failures := map[Variant]error{}
	for _, r := range reports {
		if r.Failed() {
			failures[r.Variant] = r.Err
		}
		if best == nil || r.MeanAccuracy() > best.MeanAccuracy() {
			best = r
		}
	}
	if best == nil || best.Failed() {
		return nil, &AllVariantsFailedError{Failures: failures}
	}
	return best, nil
}

func pick(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}

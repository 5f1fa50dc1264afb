package scoring

import (
	"time"

	"churn-insight/internal/ml"
	"churn-insight/internal/models"
)

// FinalFit refits the chosen variant on every row. No rows are held out, so
// all configured iterations are trained.
func FinalFit(x *ml.Frame, y []int, variant Variant, cfg Config) (*ml.Booster, error) {
	train, yTrain := x, y
	if variant == VariantResampling {
		var err error
		train, yTrain, err = cfg.smote().Resample(x, y)
		if err != nil {
			return nil, &ResamplingUnavailableError{Variant: variant, Fold: finalFold, Cause: err}
		}
	}
	p := cfg.boostingFor(variant)
	p.EarlyStopping = 0
	model, err := ml.Fit(train, yTrain, nil, nil, p)
	if err != nil {
		return nil, &FoldError{Variant: variant, Fold: finalFold, Err: err}
	}
	return model, nil
}

// ScorePopulation runs the artifact over every customer in x, in row order.
func ScorePopulation(a *ml.Artifact, x *ml.Frame, ids []int64, at time.Time) ([]models.ChurnScore, error) {
	proba, err := a.PredictProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChurnScore, len(proba))
	for i, p := range proba {
		out[i] = models.ChurnScore{CustomerID: ids[i], ChurnProbability: p[1], ScoredAt: at}
	}
	return out, nil
}

// ArtifactMeta is written next to the model file.
type ArtifactMeta struct {
	Variant    Variant            `json:"variant"`
	Features   []string           `json:"features"`
	BuiltAt    time.Time          `json:"built_at"`
	RunID      string             `json:"run_id"`
	Seed       int64              `json:"seed"`
	Folds      int                `json:"folds"`
	Rows       int                `json:"rows"`
	Thresholds Thresholds         `json:"thresholds"`
	Reports    []*VariantReport   `json:"reports"`
	Importance map[string]float64 `json:"feature_importance"`
}

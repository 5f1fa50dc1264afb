package scoring

import (
	"errors"
	"fmt"

	"churn-insight/internal/ml"
)

type Variant string

const (
	// VariantResampling oversamples churners with SMOTE-NC inside each training fold.
	VariantResampling Variant = "smote"
	// VariantWeighted reweights the loss by inverse class frequency.
	VariantWeighted Variant = "balanced"
)

// Variants in evaluation order. The first listed wins ties.
var Variants = []Variant{VariantResampling, VariantWeighted}

// Thresholds are the per-variant cutoffs used to turn fold probabilities
// into hard labels.
type Thresholds struct {
	Resampling float64 `json:"smote"`
	Weighted   float64 `json:"balanced"`
}

func (t Thresholds) For(v Variant) float64 {
	if v == VariantResampling {
		return t.Resampling
	}
	return t.Weighted
}

// ThresholdGrid is the range scanned for the F1-optimal out-of-fold threshold.
type ThresholdGrid struct {
	Lo    float64
	Hi    float64
	Steps int
}

// Config is everything a scoring run needs. Nothing in this package reads
// the process environment.
type Config struct {
	Folds      int
	Seed       int64
	Boosting   ml.Params
	SMOTE      ml.SMOTENC
	Thresholds Thresholds
	Grid       ThresholdGrid

	OutputCSV  string
	ModelsDir  string
	WriteDB    bool
	CreateView bool
}

func DefaultConfig() Config {
	return Config{
		Folds:      5,
		Seed:       42,
		Boosting:   ml.DefaultParams(),
		SMOTE:      ml.DefaultSMOTENC(),
		Thresholds: Thresholds{Resampling: 0.39, Weighted: 0.62},
		Grid:       ThresholdGrid{Lo: 0.2, Hi: 0.8, Steps: 61},
		OutputCSV:  "assets/data/churn_scores.csv",
		ModelsDir:  "models",
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Folds < 2 {
		errs = append(errs, fmt.Errorf("folds must be at least 2, got %d", c.Folds))
	}
	for _, th := range []float64{c.Thresholds.Resampling, c.Thresholds.Weighted} {
		if th <= 0 || th >= 1 {
			errs = append(errs, fmt.Errorf("threshold %v must be inside (0,1)", th))
		}
	}
	if c.Grid.Steps < 2 || c.Grid.Lo >= c.Grid.Hi {
		errs = append(errs, fmt.Errorf("threshold grid %v..%v with %d steps is invalid", c.Grid.Lo, c.Grid.Hi, c.Grid.Steps))
	}
	if c.OutputCSV == "" {
		errs = append(errs, errors.New("output csv path is required"))
	}
	if c.ModelsDir == "" {
		errs = append(errs, errors.New("models dir is required"))
	}
	return errors.Join(errs...)
}

// boostingFor returns the shared boosting parameters with the variant's
// weighting switched on or off and the run seed applied.
func (c Config) boostingFor(v Variant) ml.Params {
	p := c.Boosting
	p.Seed = c.Seed
	p.BalancedWeights = v == VariantWeighted
	return p
}

func (c Config) smote() ml.SMOTENC {
	s := c.SMOTE
	s.Seed = c.Seed
	return s
}

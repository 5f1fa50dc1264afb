package ml

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	artifactPrefix  = "best_model_"
	artifactExt     = ".gob"
	metaExt         = ".meta.json"
	timestampLayout = "20060102_150405"
)

// ErrNoArtifact is returned when a models directory holds no artifact.
var ErrNoArtifact = errors.New("no model artifact found")

// Artifact is a fitted classifier together with the variant that produced it
// and the exact feature order it expects.
type Artifact struct {
	Variant     string
	Features    []string
	Categorical []bool
	BuiltAt     time.Time
	Model       *Booster
}

func NewArtifact(variant string, model *Booster, builtAt time.Time) *Artifact {
	return &Artifact{
		Variant:     variant,
		Features:    append([]string(nil), model.Features...),
		Categorical: append([]bool(nil), model.Categorical...),
		BuiltAt:     builtAt,
		Model:       model,
	}
}

// ArtifactName is best_model_<YYYYMMDD_HHMMSS>.gob for t.
func ArtifactName(t time.Time) string {
	return artifactPrefix + t.Format(timestampLayout) + artifactExt
}

// PredictProba returns [P(stay), P(churn)] per row. Frames whose feature names
// or order differ from the artifact's are rejected.
func (a *Artifact) PredictProba(f *Frame) ([][2]float64, error) {
	if err := CheckLayout(a.Features, a.Categorical, f); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", a.Variant, err)
	}
	p1, err := a.Model.Predict(f)
	if err != nil {
		return nil, err
	}
	out := make([][2]float64, len(p1))
	for i, p := range p1 {
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func (a *Artifact) FeatureImportance() map[string]float64 {
	return a.Model.FeatureImportance()
}

// SaveArtifact writes the gob artifact and a JSON sidecar with meta into dir
// and returns the artifact path. Each file is written to a temporary name and
// renamed into place.
func SaveArtifact(dir string, a *Artifact, meta any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}
	path := filepath.Join(dir, ArtifactName(a.BuiltAt))
	if err := writeAtomic(path, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(a)
	}); err != nil {
		return "", fmt.Errorf("write model artifact %s: %w", filepath.Base(path), err)
	}
	if meta != nil {
		metaPath := strings.TrimSuffix(path, artifactExt) + metaExt
		if err := writeAtomic(metaPath, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		}); err != nil {
			return path, fmt.Errorf("write model metadata %s: %w", filepath.Base(metaPath), err)
		}
	}
	return path, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()
	var a Artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", filepath.Base(path), err)
	}
	if a.Model == nil {
		return nil, fmt.Errorf("model artifact %s has no model", filepath.Base(path))
	}
	return &a, nil
}

// LoadLatestArtifact loads the artifact with the newest timestamp in its name.
func LoadLatestArtifact(dir string) (*Artifact, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNoArtifact
		}
		return nil, "", fmt.Errorf("list models dir: %w", err)
	}
	type stamped struct {
		name string
		at   time.Time
	}
	var found []stamped
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, artifactPrefix), artifactExt)
		at, err := time.Parse(timestampLayout, ts)
		if err != nil {
			continue
		}
		found = append(found, stamped{name: name, at: at})
	}
	if len(found) == 0 {
		return nil, "", ErrNoArtifact
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.After(found[j].at) })
	path := filepath.Join(dir, found[0].name)
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, "", err
	}
	return a, path, nil
}

package scoring

import (
	"fmt"
	"strings"
)

// finalFold marks the full-data refit in fold-scoped errors.
const finalFold = -1

// ResamplingUnavailableError means minority oversampling could not run for a
// fold. During cross-validation it only knocks out its variant.
type ResamplingUnavailableError struct {
	Variant Variant
	Fold    int
	Cause   error
}

func (e *ResamplingUnavailableError) Error() string {
	return fmt.Sprintf("variant %s %s: resampling unavailable: %v", e.Variant, foldName(e.Fold), e.Cause)
}

func (e *ResamplingUnavailableError) Unwrap() error { return e.Cause }

// FoldError is any other failure while evaluating one fold.
type FoldError struct {
	Variant Variant
	Fold    int
	Err     error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("variant %s %s: %v", e.Variant, foldName(e.Fold), e.Err)
}

func (e *FoldError) Unwrap() error { return e.Err }

// AllVariantsFailedError is fatal: there is no model to keep.
type AllVariantsFailedError struct {
	Failures map[Variant]error
}

func (e *AllVariantsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, v := range Variants {
		if err, ok := e.Failures[v]; ok {
			parts = append(parts, err.Error())
		}
	}
	return "all training variants failed: " + strings.Join(parts, "; ")
}

func foldName(fold int) string {
	if fold == finalFold {
		return "final fit"
	}
	return fmt.Sprintf("fold %d", fold+1)
}

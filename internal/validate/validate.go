// Package validate implements Validator (spec.md §4.9): pre-flight
// structural validation of a batch-insert request, grounded verbatim on
// original_source/api/apps/sdk/batch_chunk_app.py's validation block
// (exact constants, message format, and first-ten-errors aggregation).
// Built on the standard library: no analogous third-party validator is
// wired elsewhere in the retrieved corpus for this shape of check
// (justified in DESIGN.md).
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxChunksPerRequest = 100
	MaxContentLength    = 10000
	maxReportedErrors   = 10
)

// ChunkInput is one chunk of an incoming batch-insert request, prior to
// any enrichment.
type ChunkInput struct {
	Content           string
	ImportantKeywords []string
	Questions         []string
	Positions         [][]int // each inner slice must have exactly 5 elements
}

// Result is the outcome of validating a batch: ValidIndices holds the indices
// (into the original request) of chunks that passed, Errors holds
// human-readable per-chunk violations.
type Result struct {
	ValidIndices []int
	Errors       []string
}

// Error formats a Result's accumulated errors in the original's
// "Validation errors: e1; e2; ... and N more errors" shape. Returns ""
// if there were no errors.
func (r Result) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	shown := r.Errors
	suffix := ""
	if len(shown) > maxReportedErrors {
		shown = shown[:maxReportedErrors]
		suffix = fmt.Sprintf(" ... and %d more errors", len(r.Errors)-maxReportedErrors)
	}
	return "Validation errors: " + strings.Join(shown, "; ") + suffix
}

// TooManyChunksError reports a request exceeding MaxChunksPerRequest.
func TooManyChunksError(received int) error {
	return fmt.Errorf("Too many chunks. Maximum allowed: %d, received: %d", MaxChunksPerRequest, received)
}

// Batch validates a full batch-insert request's chunk list. If the list
// is empty or exceeds MaxChunksPerRequest, it returns immediately without
// per-chunk validation (matching the original's early-return guards).
func Batch(chunks []ChunkInput) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("no chunks provided")
	}
	if len(chunks) > MaxChunksPerRequest {
		return Result{}, TooManyChunksError(len(chunks))
	}

	var result Result
	for i, c := range chunks {
		if err := validateOne(c); err != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Chunk %d: %s", i, err))
			continue
		}
		result.ValidIndices = append(result.ValidIndices, i)
	}
	return result, nil
}

// validateOne returns the first violation found for one chunk, or "" if
// the chunk is valid. Mirrors the original's continue-on-first-error
// per-chunk short-circuit.
func validateOne(c ChunkInput) string {
	content := strings.TrimSpace(c.Content)
	if content == "" {
		return "content is required"
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return fmt.Sprintf("content too long (%d chars, max %d)", n, MaxContentLength)
	}

	for j, pos := range c.Positions {
		if len(pos) != 5 {
			return fmt.Sprintf("positions[%d] must be a list of 5 integers [page_num, left, right, top, bottom]", j)
		}
		for _, v := range pos {
			if v < 0 {
				return fmt.Sprintf("positions[%d] must contain only non-negative integers", j)
			}
		}
	}
	return ""
}

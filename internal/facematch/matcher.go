// Package facematch identifies the enrolled identity nearest to a query
// embedding by exhaustive Euclidean comparison.
package facematch

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/face-auth/internal/database"
)

// Result is the outcome of a single match.
type Result struct {
	// IdentityID is the owner of the closest stored embedding. Zero when
	// HasCandidate is false.
	IdentityID int64
	// Distance is the best Euclidean distance, +Inf when nothing was compared.
	Distance float64
	// HasCandidate is true when at least one stored embedding was compared.
	HasCandidate bool
	// Accepted is true when Distance is strictly below the threshold.
	Accepted bool
	// Generation identifies the embedding set that was scanned.
	Generation database.Generation
}

// Matcher compares queries against every stored embedding.
type Matcher struct {
	reader    database.EmbeddingReader
	threshold float64
}

// NewMatcher creates a matcher with the given acceptance threshold.
func NewMatcher(reader database.EmbeddingReader, threshold float64) *Matcher {
	return &Matcher{reader: reader, threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match reads the current embedding set and returns the nearest identity.
// An empty store yields a Result without a candidate and no error.
func (m *Matcher) Match(ctx context.Context, query []float32) (Result, error) {
	records, err := m.reader.AllEmbeddingsWithOwner(ctx)
	if err != nil {
		return Result{Distance: math.Inf(1)}, fmt.Errorf("load embeddings: %w", err)
	}
	return MatchAgainst(records, query, m.threshold), nil
}

// MatchAgainst scans records in order and keeps the first strictly smaller
// distance, so among equal distances the earliest record wins. Records with
// a dimension different from the query are skipped.
func MatchAgainst(records []database.EmbeddingRecord, query []float32, threshold float64) Result {
	res := Result{
		Distance:   math.Inf(1),
		Generation: database.GenerationOf(records),
	}

	for i := range records {
		rec := &records[i]
		if len(rec.Embedding) != len(query) {
			continue
		}
		d := database.EuclideanDistance(rec.Embedding, query)
		if !res.HasCandidate || d < res.Distance {
			res.IdentityID = rec.IdentityID
			res.Distance = d
			res.HasCandidate = true
		}
	}

	res.Accepted = res.HasCandidate && res.Distance < threshold
	return res
}

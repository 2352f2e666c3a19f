package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/database"
)

var (
	// ErrEmptyTrainingSet is returned when there is nothing to fit
	ErrEmptyTrainingSet = errors.New("empty training set")

	// ErrNoSnapshot is returned when classifying before any snapshot is installed
	ErrNoSnapshot = errors.New("no classifier snapshot")
)

// Snapshot pairs a fitted scaler with the kNN classifier trained in its
// output space. A snapshot is immutable once built.
type Snapshot struct {
	ID         string
	BuiltAt    time.Time
	Generation database.Generation

	scaler *Scaler
	knn    *KNN
}

// Prediction is the classifier's vote for a query.
type Prediction struct {
	IdentityID int64
	Votes      int
	Neighbors  []Neighbor
}

// Fit builds a snapshot from an ordered record set. Records whose dimension
// differs from the first record are skipped.
func Fit(records []database.EmbeddingRecord, k int) (*Snapshot, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count %d", k)
	}

	dim := len(records[0].Embedding)
	kept := make([]database.EmbeddingRecord, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	for i := range records {
		if len(records[i].Embedding) != dim {
			continue
		}
		kept = append(kept, records[i])
		vectors = append(vectors, records[i].Embedding)
	}

	scaler, err := FitScaler(vectors)
	if err != nil {
		return nil, err
	}

	scaled := make([][]float32, len(vectors))
	for i, v := range vectors {
		if scaled[i], err = scaler.Transform(v); err != nil {
			return nil, err
		}
	}

	return &Snapshot{
		ID:         uuid.NewString(),
		BuiltAt:    time.Now().UTC(),
		Generation: database.GenerationOf(records),
		scaler:     scaler,
		knn:        fitKNN(kept, scaled, k),
	}, nil
}

// Classify standardizes the query and returns the neighbour vote.
// No distance threshold is applied.
func (s *Snapshot) Classify(query []float32) (Prediction, error) {
	scaled, err := s.scaler.Transform(query)
	if err != nil {
		return Prediction{}, err
	}
	neighbors := s.knn.Neighbors(scaled)
	id, votes := vote(neighbors)
	return Prediction{IdentityID: id, Votes: votes, Neighbors: neighbors}, nil
}

// Size returns the number of training vectors.
func (s *Snapshot) Size() int {
	return s.knn.Len()
}

// K returns the neighbour count.
func (s *Snapshot) K() int {
	return s.knn.K()
}

// Dim returns the feature width the snapshot was fitted on.
func (s *Snapshot) Dim() int {
	return s.scaler.Dim()
}

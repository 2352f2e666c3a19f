// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultDistanceThreshold is the maximum Euclidean distance between a probe
	// and a stored embedding for a login to be accepted. Calibrated for 128-dim
	// dlib style face descriptors.
	DefaultDistanceThreshold = 0.6

	// DefaultEmbeddingDim is the dimensionality produced by the face extractor
	DefaultEmbeddingDim = 128
)

// Enrollment constants
const (
	// MinEnrollmentSamples is the minimum number of images (and of valid
	// embeddings after face detection) needed to register an identity
	MinEnrollmentSamples = 5

	// DefaultResizeFactor is applied to images before face extraction
	DefaultResizeFactor = 0.5

	// DefaultExtractWorkers is the number of parallel extractor calls per enrollment
	DefaultExtractWorkers = 4
)

// Classifier constants
const (
	// ClassifierNeighbors is the k of the nearest-neighbour vote
	ClassifierNeighbors = 3

	// ClassifierMaxNeighbors (M) is the maximum number of neighbours per HNSW node
	ClassifierMaxNeighbors = 16

	// ClassifierEfSearch is the HNSW search candidate pool size
	ClassifierEfSearch = 64

	// ClassifierSeed makes graph construction reproducible
	ClassifierSeed = 42

	// DefaultClassifierPath is where the trained snapshot is persisted
	DefaultClassifierPath = "models/facial_knn.snapshot"
)

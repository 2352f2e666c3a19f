package database

import (
	"context"
)

// IdentityReader provides read-only access to registered identities
type IdentityReader interface {
	// ListIdentities returns all identities ordered by ascending id
	ListIdentities(ctx context.Context) ([]IdentitySummary, error)
	// IdentityByID returns a single identity, or ErrNotFound
	IdentityByID(ctx context.Context, id int64) (*Identity, error)
	// CheckUnique returns a *DuplicateFieldError when email or identifier is
	// already registered. The email is checked first. The result is advisory:
	// unique constraints in the store are the final arbiter.
	CheckUnique(ctx context.Context, email, identifier string) error
}

// EmbeddingReader provides read-only access to face embeddings
type EmbeddingReader interface {
	// EmbeddingsFor returns the vectors of one identity in insertion order
	EmbeddingsFor(ctx context.Context, identityID int64) ([][]float32, error)
	// AllEmbeddingsWithOwner returns every embedding ordered by identity id,
	// then by insertion order. Matching tie-breaks rely on this order.
	AllEmbeddingsWithOwner(ctx context.Context) ([]EmbeddingRecord, error)
	// Generation returns the current embedding count and max embedding id
	Generation(ctx context.Context) (Generation, error)
}

// DescriptorReader combines identity and embedding reads.
type DescriptorReader interface {
	IdentityReader
	EmbeddingReader
}

// DescriptorStore provides write access to identities and their embeddings
type DescriptorStore interface {
	DescriptorReader

	// CreateIdentity hashes the password and inserts the identity.
	// Fails with *DuplicateFieldError when email or identifier collide.
	CreateIdentity(ctx context.Context, profile Profile, password string) (int64, error)

	// AddEmbeddings appends embeddings to an existing identity.
	AddEmbeddings(ctx context.Context, identityID int64, vectors [][]float32) error

	// Enroll creates the identity and all of its embeddings in one
	// transaction. Readers never observe the identity without its embeddings.
	Enroll(ctx context.Context, profile Profile, password string, vectors [][]float32) (*Identity, error)
}

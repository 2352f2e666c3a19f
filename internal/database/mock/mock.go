// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/password"
)

// MockDescriptorStore is an in-memory implementation of database.DescriptorStore.
// It enforces the same uniqueness and atomicity guarantees as the PostgreSQL store.
type MockDescriptorStore struct {
	mu         sync.RWMutex
	identities map[int64]*database.Identity
	embeddings []database.EmbeddingRecord
	nextID     int64
	nextEmbID  int64

	// Error injection
	ListError       error
	GetError        error
	CheckError      error
	EmbeddingsError error
	CreateError     error
	AddError        error
	EnrollError     error

	// SkipUniqueCheck makes CheckUnique always succeed, simulating a
	// concurrent enrollment that passed the advisory check.
	SkipUniqueCheck bool
}

// NewMockDescriptorStore creates a new empty store
func NewMockDescriptorStore() *MockDescriptorStore {
	return &MockDescriptorStore{
		identities: make(map[int64]*database.Identity),
	}
}

// ListIdentities returns all identities ordered by id
func (m *MockDescriptorStore) ListIdentities(ctx context.Context) ([]database.IdentitySummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.IdentitySummary, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, database.IdentitySummary{ID: ident.ID, Name: ident.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IdentityByID returns a copy of the identity
func (m *MockDescriptorStore) IdentityByID(ctx context.Context, id int64) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// CheckUnique reports a duplicate email before a duplicate identifier
func (m *MockDescriptorStore) CheckUnique(ctx context.Context, email, identifier string) error {
	if m.CheckError != nil {
		return m.CheckError
	}
	if m.SkipUniqueCheck {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uniqueLocked(email, identifier)
}

func (m *MockDescriptorStore) uniqueLocked(email, identifier string) error {
	for _, ident := range m.identities {
		if ident.Email == email {
			return &database.DuplicateFieldError{Field: database.FieldEmail}
		}
	}
	for _, ident := range m.identities {
		if ident.Identifier == identifier {
			return &database.DuplicateFieldError{Field: database.FieldIdentifier}
		}
	}
	return nil
}

// EmbeddingsFor returns the vectors of one identity in insertion order
func (m *MockDescriptorStore) EmbeddingsFor(ctx context.Context, identityID int64) ([][]float32, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out [][]float32
	for _, rec := range m.embeddings {
		if rec.IdentityID == identityID {
			out = append(out, slices.Clone(rec.Embedding))
		}
	}
	return out, nil
}

// AllEmbeddingsWithOwner returns all embeddings ordered by identity id, then id
func (m *MockDescriptorStore) AllEmbeddingsWithOwner(ctx context.Context) ([]database.EmbeddingRecord, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.EmbeddingRecord, len(m.embeddings))
	for i, rec := range m.embeddings {
		rec.Embedding = slices.Clone(rec.Embedding)
		out[i] = rec
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Generation returns the embedding count and max id
func (m *MockDescriptorStore) Generation(ctx context.Context) (database.Generation, error) {
	if m.EmbeddingsError != nil {
		return database.Generation{}, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return database.GenerationOf(m.embeddings), nil
}

// CreateIdentity inserts a new identity
func (m *MockDescriptorStore) CreateIdentity(ctx context.Context, profile database.Profile, plain string) (int64, error) {
	if m.CreateError != nil {
		return 0, m.CreateError
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ident, err := m.insertIdentityLocked(profile, hash)
	if err != nil {
		return 0, err
	}
	return ident.ID, nil
}

func (m *MockDescriptorStore) insertIdentityLocked(profile database.Profile, hash string) (*database.Identity, error) {
	if err := m.uniqueLocked(profile.Email, profile.Identifier); err != nil {
		return nil, err
	}
	m.nextID++
	ident := &database.Identity{
		ID:           m.nextID,
		Name:         profile.Name,
		LastName:     profile.LastName,
		Email:        profile.Email,
		Identifier:   profile.Identifier,
		PasswordHash: hash,
		RegisteredAt: time.Now().UTC(),
	}
	m.identities[ident.ID] = ident
	return ident, nil
}

// AddEmbeddings appends embeddings to an existing identity
func (m *MockDescriptorStore) AddEmbeddings(ctx context.Context, identityID int64, vectors [][]float32) error {
	if m.AddError != nil {
		return m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[identityID]; !ok {
		return database.ErrNotFound
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return database.ErrEmptyEmbedding
		}
	}
	m.appendLocked(identityID, vectors)
	return nil
}

func (m *MockDescriptorStore) appendLocked(identityID int64, vectors [][]float32) {
	now := time.Now().UTC()
	for _, v := range vectors {
		m.nextEmbID++
		m.embeddings = append(m.embeddings, database.EmbeddingRecord{
			ID:         m.nextEmbID,
			IdentityID: identityID,
			Embedding:  slices.Clone(v),
			CreatedAt:  now,
		})
	}
}

// Enroll creates the identity and its embeddings under one lock
func (m *MockDescriptorStore) Enroll(
	ctx context.Context, profile database.Profile, plain string, vectors [][]float32,
) (*database.Identity, error) {
	if m.EnrollError != nil {
		return nil, m.EnrollError
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return nil, database.ErrEmptyEmbedding
		}
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.insertIdentityLocked(profile, hash)
	if err != nil {
		return nil, err
	}
	m.appendLocked(ident.ID, vectors)

	cp := *ident
	return &cp, nil
}

// IdentityCount returns the number of stored identities
func (m *MockDescriptorStore) IdentityCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities)
}

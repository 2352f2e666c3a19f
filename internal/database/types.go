package database

import (
	"time"
)

// Profile holds the identity fields supplied at enrollment.
type Profile struct {
	Name       string
	LastName   string
	Email      string
	Identifier string // national/government identifier (cedula)
}

// Identity represents a registered user stored in the database
type Identity struct {
	ID           int64
	Name         string
	LastName     string
	Email        string
	Identifier   string
	PasswordHash string
	RegisteredAt time.Time
}

// Profile returns the public identity fields.
func (i *Identity) Profile() Profile {
	return Profile{
		Name:       i.Name,
		LastName:   i.LastName,
		Email:      i.Email,
		Identifier: i.Identifier,
	}
}

// IdentitySummary is the (id, name) pair used for listings and match results
type IdentitySummary struct {
	ID   int64
	Name string
}

// EmbeddingRecord represents one face embedding bound to an identity
type EmbeddingRecord struct {
	ID         int64
	IdentityID int64
	Embedding  []float32
	CreatedAt  time.Time
}

// Generation identifies a state of the embedding table. Embeddings are
// append-only, so (count, max id) changes with every committed enrollment.
type Generation struct {
	Count int64
	MaxID int64
}

// GenerationOf computes the generation of an ordered record set.
func GenerationOf(records []EmbeddingRecord) Generation {
	g := Generation{Count: int64(len(records))}
	for i := range records {
		if records[i].ID > g.MaxID {
			g.MaxID = records[i].ID
		}
	}
	return g
}

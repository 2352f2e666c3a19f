package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/password"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// constraintFields maps unique constraint names to identity fields.
var constraintFields = map[string]database.Field{
	"identities_email_key":      database.FieldEmail,
	"identities_identifier_key": database.FieldIdentifier,
}

// DescriptorRepository provides PostgreSQL-backed identity and embedding storage.
type DescriptorRepository struct {
	pool *Pool
}

// NewDescriptorRepository creates a new PostgreSQL descriptor repository.
func NewDescriptorRepository(pool *Pool) *DescriptorRepository {
	return &DescriptorRepository{pool: pool}
}

// mapUniqueViolation turns a unique constraint failure into a DuplicateFieldError.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		if field, ok := constraintFields[pqErr.Constraint]; ok {
			return &database.DuplicateFieldError{Field: field}
		}
	}
	return err
}

// ListIdentities returns all identities ordered by id.
func (r *DescriptorRepository) ListIdentities(ctx context.Context) ([]database.IdentitySummary, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, name FROM identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []database.IdentitySummary
	for rows.Next() {
		var s database.IdentitySummary
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// IdentityByID returns a single identity.
func (r *DescriptorRepository) IdentityByID(ctx context.Context, id int64) (*database.Identity, error) {
	query := `
		SELECT id, name, last_name, email, identifier, password_hash, registered_at
		FROM identities
		WHERE id = $1
	`

	var ident database.Identity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ident.ID,
		&ident.Name,
		&ident.LastName,
		&ident.Email,
		&ident.Identifier,
		&ident.PasswordHash,
		&ident.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// CheckUnique reports which unique field is already registered, email first.
func (r *DescriptorRepository) CheckUnique(ctx context.Context, email, identifier string) error {
	var emailTaken, identifierTaken bool
	err := r.pool.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM identities WHERE email = $1),
			EXISTS(SELECT 1 FROM identities WHERE identifier = $2)
	`, email, identifier).Scan(&emailTaken, &identifierTaken)
	if err != nil {
		return fmt.Errorf("check unique fields: %w", err)
	}

	switch {
	case emailTaken:
		return &database.DuplicateFieldError{Field: database.FieldEmail}
	case identifierTaken:
		return &database.DuplicateFieldError{Field: database.FieldIdentifier}
	}
	return nil
}

// EmbeddingsFor returns the vectors of one identity in insertion order.
func (r *DescriptorRepository) EmbeddingsFor(ctx context.Context, identityID int64) ([][]float32, error) {
	rows, err := r.pool.Query(ctx, "SELECT embedding FROM embeddings WHERE identity_id = $1 ORDER BY id", identityID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// AllEmbeddingsWithOwner returns every embedding ordered by identity, then insertion order.
func (r *DescriptorRepository) AllEmbeddingsWithOwner(ctx context.Context) ([]database.EmbeddingRecord, error) {
	query := `
		SELECT id, identity_id, embedding, created_at
		FROM embeddings
		ORDER BY identity_id, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.EmbeddingRecord
	for rows.Next() {
		var rec database.EmbeddingRecord
		var vec pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &vec, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		rec.Embedding = vec.Slice()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// Generation returns the embedding count and max embedding id.
func (r *DescriptorRepository) Generation(ctx context.Context) (database.Generation, error) {
	var g database.Generation
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM embeddings").Scan(&g.Count, &g.MaxID)
	if err != nil {
		return g, fmt.Errorf("get embedding stats: %w", err)
	}
	return g, nil
}

// CreateIdentity hashes the password and inserts the identity.
func (r *DescriptorRepository) CreateIdentity(ctx context.Context, profile database.Profile, plain string) (int64, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	ident, err := insertIdentity(ctx, r.pool.DB(), profile, hash)
	if err != nil {
		return 0, err
	}
	return ident.ID, nil
}

// AddEmbeddings appends embeddings to an existing identity in one transaction.
func (r *DescriptorRepository) AddEmbeddings(ctx context.Context, identityID int64, vectors [][]float32) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM identities WHERE id = $1)", identityID).Scan(&exists); err != nil {
		return fmt.Errorf("check identity exists: %w", err)
	}
	if !exists {
		return database.ErrNotFound
	}

	if err := insertEmbeddings(ctx, tx, identityID, vectors); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Enroll inserts the identity and all of its embeddings in one transaction.
func (r *DescriptorRepository) Enroll(
	ctx context.Context, profile database.Profile, plain string, vectors [][]float32,
) (*database.Identity, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ident, err := insertIdentity(ctx, tx, profile, hash)
	if err != nil {
		return nil, err
	}

	if err := insertEmbeddings(ctx, tx, ident.ID, vectors); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ident, nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertIdentity(ctx context.Context, q queryRower, profile database.Profile, hash string) (*database.Identity, error) {
	ident := &database.Identity{
		Name:         profile.Name,
		LastName:     profile.LastName,
		Email:        profile.Email,
		Identifier:   profile.Identifier,
		PasswordHash: hash,
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO identities (email, identifier, name, last_name, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, registered_at
	`, profile.Email, profile.Identifier, profile.Name, profile.LastName, hash).Scan(&ident.ID, &ident.RegisteredAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return ident, nil
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, identityID int64, vectors [][]float32) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (identity_id, embedding, dim)
		VALUES ($1, $2::vector, $3)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, v := range vectors {
		if len(v) == 0 {
			return database.ErrEmptyEmbedding
		}
		if _, err := stmt.ExecContext(ctx, identityID, pgvector.NewVector(v), len(v)); err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}
	return nil
}

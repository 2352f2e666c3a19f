package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profile(email, identifier string) database.Profile {
	return database.Profile{Name: "Ana", LastName: "Perez", Email: email, Identifier: identifier}
}

func vectors(n int, base float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{base, base + float32(i)}
	}
	return out
}

func TestEnroll_Atomic(t *testing.T) {
	ctx := context.Background()
	store := NewMockDescriptorStore()

	ident, err := store.Enroll(ctx, profile("a@x.io", "1"), "pw", vectors(5, 0))
	require.NoError(t, err)

	got, err := store.EmbeddingsFor(ctx, ident.ID)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = store.Enroll(ctx, profile("b@x.io", "2"), "pw", [][]float32{{1}, {}})
	assert.ErrorIs(t, err, database.ErrEmptyEmbedding)
	assert.Equal(t, 1, store.IdentityCount())
}

func TestEnroll_DuplicateFields(t *testing.T) {
	ctx := context.Background()
	store := NewMockDescriptorStore()
	_, err := store.Enroll(ctx, profile("a@x.io", "1"), "pw", vectors(5, 0))
	require.NoError(t, err)

	_, err = store.Enroll(ctx, profile("a@x.io", "2"), "pw", vectors(5, 0))
	field, ok := database.DuplicateField(err)
	require.True(t, ok)
	assert.Equal(t, database.FieldEmail, field)

	_, err = store.Enroll(ctx, profile("c@x.io", "1"), "pw", vectors(5, 0))
	field, ok = database.DuplicateField(err)
	require.True(t, ok)
	assert.Equal(t, database.FieldIdentifier, field)

	assert.Equal(t, 1, store.IdentityCount())
}

func TestEnroll_ConcurrentSameEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMockDescriptorStore()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Enroll(ctx, profile("same@x.io", string(rune('a'+i))), "pw", vectors(5, 0))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestAllEmbeddingsWithOwner_Order(t *testing.T) {
	ctx := context.Background()
	store := NewMockDescriptorStore()

	a, err := store.Enroll(ctx, profile("a@x.io", "1"), "pw", vectors(2, 0))
	require.NoError(t, err)
	b, err := store.Enroll(ctx, profile("b@x.io", "2"), "pw", vectors(2, 10))
	require.NoError(t, err)
	require.NoError(t, store.AddEmbeddings(ctx, a.ID, vectors(1, 5)))

	recs, err := store.AllEmbeddingsWithOwner(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	owners := []int64{recs[0].IdentityID, recs[1].IdentityID, recs[2].IdentityID, recs[3].IdentityID, recs[4].IdentityID}
	assert.Equal(t, []int64{a.ID, a.ID, a.ID, b.ID, b.ID}, owners)
	assert.Less(t, recs[0].ID, recs[1].ID)

	gen, err := store.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), gen.Count)
}

func TestIdentityByID_NotFound(t *testing.T) {
	_, err := NewMockDescriptorStore().IdentityByID(context.Background(), 42)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

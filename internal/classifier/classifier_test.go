package classifier

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 16

// clusteredRecords returns n records per identity scattered around
// identity-specific centers.
func clusteredRecords(identities, n int) []database.EmbeddingRecord {
	rng := rand.New(rand.NewSource(7))
	var out []database.EmbeddingRecord
	id := int64(1)
	for ident := 1; ident <= identities; ident++ {
		for range n {
			v := make([]float32, testDim)
			for j := range v {
				v[j] = float32(ident*10) + float32(rng.NormFloat64()*0.1)
			}
			out = append(out, database.EmbeddingRecord{ID: id, IdentityID: int64(ident), Embedding: v})
			id++
		}
	}
	return out
}

// rebuildWith installs a snapshot fitted on records instead of the store
// contents, under the same lock as Rebuild.
func (c *Cache) rebuildWith(records []database.EmbeddingRecord) (*Snapshot, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return c.rebuildFrom(records)
}

func probes(identities int) [][]float32 {
	rng := rand.New(rand.NewSource(99))
	var out [][]float32
	for ident := 1; ident <= identities; ident++ {
		v := make([]float32, testDim)
		for j := range v {
			v[j] = float32(ident*10) + float32(rng.NormFloat64()*0.05)
		}
		out = append(out, v)
	}
	return out
}

func TestFitScaler(t *testing.T) {
	s, err := FitScaler([][]float32{{1, 5}, {3, 5}})
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([]float32{3, 7})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 2}, out, 1e-6)

	_, err = s.Transform([]float32{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = FitScaler(nil)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestVote(t *testing.T) {
	tests := []struct {
		name      string
		neighbors []Neighbor
		want      int64
		votes     int
	}{
		{
			name:      "majority",
			neighbors: []Neighbor{{1, 5, 0.1}, {2, 7, 0.2}, {3, 7, 0.3}},
			want:      7,
			votes:     2,
		},
		{
			name:      "tie broken by summed distance",
			neighbors: []Neighbor{{1, 5, 0.4}, {2, 7, 0.1}},
			want:      7,
			votes:     1,
		},
		{
			name:      "full tie broken by lower id",
			neighbors: []Neighbor{{1, 9, 0.2}, {2, 4, 0.2}},
			want:      4,
			votes:     1,
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, votes := vote(tt.neighbors)
			assert.Equal(t, tt.want, id)
			assert.Equal(t, tt.votes, votes)
		})
	}
}

func TestFit_ClassifiesClusters(t *testing.T) {
	snap, err := Fit(clusteredRecords(3, 5), 3)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.Size())
	assert.Equal(t, testDim, snap.Dim())
	assert.Equal(t, database.Generation{Count: 15, MaxID: 15}, snap.Generation)

	for i, p := range probes(3) {
		pred, err := snap.Classify(p)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), pred.IdentityID)
		assert.Equal(t, 3, pred.Votes)
		assert.Len(t, pred.Neighbors, 3)
	}

	_, err = snap.Classify([]float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFit_Empty(t *testing.T) {
	_, err := Fit(nil, 3)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestRebuild_Idempotent(t *testing.T) {
	records := clusteredRecords(4, 5)
	cache := NewCache(mock.NewMockDescriptorStore(), 3, "")

	first, err := cache.rebuildWith(records)
	require.NoError(t, err)
	second, err := cache.rebuildWith(records)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	for _, p := range append(probes(4), make([]float32, testDim)) {
		a, err := first.Classify(p)
		require.NoError(t, err)
		b, err := second.Classify(p)
		require.NoError(t, err)
		assert.Equal(t, a.IdentityID, b.IdentityID)
	}
}

func TestRebuild_EmptyStoreKeepsPriorSnapshot(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(mock.NewMockDescriptorStore(), 3, "")

	_, err := cache.Rebuild(ctx)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
	assert.Nil(t, cache.Snapshot())

	prior, err := cache.rebuildWith(clusteredRecords(2, 5))
	require.NoError(t, err)

	_, err = cache.Rebuild(ctx)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
	assert.Same(t, prior, cache.Snapshot())
}

func TestCache_ClassifyWithoutSnapshot(t *testing.T) {
	cache := NewCache(mock.NewMockDescriptorStore(), 3, "")
	_, err := cache.Classify(make([]float32, testDim))
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.ErrorIs(t, cache.Persist(), ErrNoSnapshot)
}

func TestCache_PersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "knn.snapshot")
	records := clusteredRecords(3, 5)

	writer := NewCache(mock.NewMockDescriptorStore(), 3, path)
	built, err := writer.rebuildWith(records)
	require.NoError(t, err)
	require.FileExists(t, path)

	reader := NewCache(mock.NewMockDescriptorStore(), 3, path)
	require.NoError(t, reader.Load())
	loaded := reader.Snapshot()
	require.NotNil(t, loaded)

	assert.Equal(t, built.ID, loaded.ID)
	assert.Equal(t, built.Generation, loaded.Generation)
	assert.Equal(t, built.Size(), loaded.Size())
	for _, p := range probes(3) {
		want, err := built.Classify(p)
		require.NoError(t, err)
		got, err := reader.Classify(p)
		require.NoError(t, err)
		assert.Equal(t, want.IdentityID, got.IdentityID)
	}
}

func TestCache_LoadFailuresAreNonFatal(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		cache := NewCache(mock.NewMockDescriptorStore(), 3, filepath.Join(dir, "absent"))
		assert.ErrorIs(t, cache.Load(), os.ErrNotExist)
		cache.LoadBestEffort()
		assert.Nil(t, cache.Snapshot())
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt")
		require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

		cache := NewCache(mock.NewMockDescriptorStore(), 3, path)
		assert.ErrorIs(t, cache.Load(), ErrCorruptSnapshot)
		cache.LoadBestEffort()
		assert.Nil(t, cache.Snapshot())
	})

	t.Run("different k", func(t *testing.T) {
		path := filepath.Join(dir, "k5")
		_, err := NewCache(mock.NewMockDescriptorStore(), 5, path).rebuildWith(clusteredRecords(2, 5))
		require.NoError(t, err)

		cache := NewCache(mock.NewMockDescriptorStore(), 3, path)
		assert.ErrorIs(t, cache.Load(), ErrCorruptSnapshot)
	})
}

func TestCache_Stale(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockDescriptorStore()
	cache := NewCache(store, 3, "")

	stale, err := cache.Stale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)

	for i, seed := range []float32{0, 10} {
		vectors := make([][]float32, 5)
		for j := range vectors {
			v := make([]float32, testDim)
			for d := range v {
				v[d] = seed + float32(j)*0.01
			}
			vectors[j] = v
		}
		_, err := store.Enroll(ctx, database.Profile{
			Name: "N", LastName: "L", Email: string(rune('a'+i)) + "@x.io", Identifier: string(rune('a' + i)),
		}, "pw", vectors)
		require.NoError(t, err)
	}

	_, err = cache.Rebuild(ctx)
	require.NoError(t, err)
	stale, err = cache.Stale(ctx)
	require.NoError(t, err)
	assert.False(t, stale)

	require.NoError(t, store.AddEmbeddings(ctx, 1, [][]float32{make([]float32, testDim)}))
	stale, err = cache.Stale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
}

// faceLikeRecords returns 128-dim records, n per identity, whose clusters
// overlap enough that nearest neighbours interleave across identities.
func faceLikeRecords(identities, n int, rng *rand.Rand) ([]database.EmbeddingRecord, [][]float32) {
	const dim = 128
	centers := make([][]float32, identities)
	var out []database.EmbeddingRecord
	id := int64(1)
	for ident := range identities {
		c := make([]float32, dim)
		for j := range c {
			c[j] = float32(rng.NormFloat64() * 0.1)
		}
		centers[ident] = c
		for range n {
			v := make([]float32, dim)
			for j := range v {
				v[j] = c[j] + float32(rng.NormFloat64()*0.05)
			}
			out = append(out, database.EmbeddingRecord{ID: id, IdentityID: int64(ident + 1), Embedding: v})
			id++
		}
	}
	return out, centers
}

// exactNeighbors sorts every training vector by distance to the scaled query.
func exactNeighbors(t *testing.T, snap *Snapshot, records []database.EmbeddingRecord, query []float32) []Neighbor {
	t.Helper()
	scaledQuery, err := snap.scaler.Transform(query)
	require.NoError(t, err)

	all := make([]Neighbor, 0, len(records))
	for _, r := range records {
		v, err := snap.scaler.Transform(r.Embedding)
		require.NoError(t, err)
		all = append(all, Neighbor{
			EmbeddingID: r.ID,
			IdentityID:  r.IdentityID,
			Distance:    float64(hnsw.EuclideanDistance(scaledQuery, v)),
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].EmbeddingID < all[j].EmbeddingID
	})
	return all[:snap.K()]
}

func TestClassify_MatchesExactNeighbours(t *testing.T) {
	for _, identities := range []int{20, 200} {
		t.Run(fmt.Sprintf("identities=%d", identities), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(identities)))
			records, centers := faceLikeRecords(identities, 5, rng)

			snap, err := Fit(records, 3)
			require.NoError(t, err)
			data, err := Encode(snap)
			require.NoError(t, err)
			restored, err := Decode(data)
			require.NoError(t, err)

			for i := range 150 {
				query := make([]float32, len(centers[0]))
				center := centers[i%identities]
				for j := range query {
					query[j] = center[j] + float32(rng.NormFloat64()*0.08)
				}

				want := exactNeighbors(t, snap, records, query)
				wantID, wantVotes := vote(want)

				for _, s := range []*Snapshot{snap, restored} {
					pred, err := s.Classify(query)
					require.NoError(t, err)
					require.Equal(t, want, pred.Neighbors, "query %d", i)
					assert.Equal(t, wantID, pred.IdentityID)
					assert.Equal(t, wantVotes, pred.Votes)
				}
			}
		})
	}
}

func TestCache_ConcurrentRebuildAndClassify(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockDescriptorStore()
	for i, seed := range []float32{0, 10, 20} {
		vectors := make([][]float32, 5)
		for j := range vectors {
			v := make([]float32, testDim)
			for d := range v {
				v[d] = seed + float32(j+d)*0.01
			}
			vectors[j] = v
		}
		_, err := store.Enroll(ctx, database.Profile{
			Name: "N", LastName: "L", Email: fmt.Sprintf("%d@x.io", i), Identifier: fmt.Sprint(i),
		}, "pw", vectors)
		require.NoError(t, err)
	}

	cache := NewCache(store, 3, "")
	_, err := cache.Rebuild(ctx)
	require.NoError(t, err)

	alternate := clusteredRecords(4, 5)
	queries := probes(4)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				var err error
				if (w+i)%2 == 0 {
					_, err = cache.Rebuild(ctx)
				} else {
					_, err = cache.rebuildWith(alternate)
				}
				assert.NoError(t, err)
			}
		}()
	}

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				snap := cache.Snapshot()
				if !assert.NotNil(t, snap) {
					return
				}
				// A snapshot is complete when it holds every record it was
				// built from and answers with k neighbours.
				assert.Equal(t, int(snap.Generation.Count), snap.Size())
				pred, err := snap.Classify(queries[i%len(queries)])
				assert.NoError(t, err)
				assert.Len(t, pred.Neighbors, 3)
				assert.GreaterOrEqual(t, pred.IdentityID, int64(1))
				assert.LessOrEqual(t, pred.IdentityID, int64(4))

				_, err = cache.Classify(queries[i%len(queries)])
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.NotNil(t, cache.Snapshot())
}

// gatedReader blocks full-store reads until release is closed.
type gatedReader struct {
	database.EmbeddingReader
	release chan struct{}
}

func (g *gatedReader) AllEmbeddingsWithOwner(ctx context.Context) ([]database.EmbeddingRecord, error) {
	<-g.release
	return g.EmbeddingReader.AllEmbeddingsWithOwner(ctx)
}

func TestCache_WarmRebuildsInBackground(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockDescriptorStore()
	vectors := make([][]float32, 5)
	for j := range vectors {
		vectors[j] = make([]float32, testDim)
		vectors[j][0] = float32(j)
	}
	_, err := store.Enroll(ctx, database.Profile{
		Name: "N", LastName: "L", Email: "n@x.io", Identifier: "1",
	}, "pw", vectors)
	require.NoError(t, err)

	reader := &gatedReader{EmbeddingReader: store, release: make(chan struct{})}
	cache := NewCache(reader, 3, filepath.Join(t.TempDir(), "absent"))

	done := cache.Warm(ctx)
	select {
	case <-done:
		t.Fatal("warm-up finished before the store could be read")
	default:
	}
	assert.Nil(t, cache.Snapshot())

	close(reader.release)
	<-done

	snap := cache.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 5, snap.Size())
	stale, err := cache.Stale(ctx)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestCache_WarmKeepsFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knn.snapshot")
	store := mock.NewMockDescriptorStore()
	vectors := make([][]float32, 5)
	for j := range vectors {
		vectors[j] = make([]float32, testDim)
		vectors[j][1] = float32(j)
	}
	_, err := store.Enroll(ctx, database.Profile{
		Name: "N", LastName: "L", Email: "n@x.io", Identifier: "1",
	}, "pw", vectors)
	require.NoError(t, err)

	built, err := NewCache(store, 3, path).Rebuild(ctx)
	require.NoError(t, err)

	cache := NewCache(store, 3, path)
	<-cache.Warm(ctx)
	require.NotNil(t, cache.Snapshot())
	assert.Equal(t, built.ID, cache.Snapshot().ID)
}

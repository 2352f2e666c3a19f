// Package classifier maintains the standardized kNN classifier that serves
// as an auxiliary matcher and warm-start state across restarts.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/logger"
	"go.uber.org/zap"
)

// Cache holds the current snapshot behind an atomic pointer. Readers never
// block on a rebuild; rebuilds are serialized.
type Cache struct {
	reader database.EmbeddingReader
	k      int
	path   string
	log    *zap.Logger

	current atomic.Pointer[Snapshot]
	buildMu sync.Mutex
}

// NewCache creates an empty cache. An empty path disables persistence.
func NewCache(reader database.EmbeddingReader, k int, path string) *Cache {
	return &Cache{
		reader: reader,
		k:      k,
		path:   path,
		log:    logger.Named("classifier"),
	}
}

// Snapshot returns the installed snapshot, or nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Rebuild fits a new snapshot over the full store contents, installs it and
// persists it. An empty store is a no-op that keeps the prior snapshot and
// returns ErrEmptyTrainingSet. A persist failure leaves the new snapshot
// installed and is returned.
func (c *Cache) Rebuild(ctx context.Context) (*Snapshot, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	records, err := c.reader.AllEmbeddingsWithOwner(ctx)
	if err != nil {
		return nil, fmt.Errorf("load training set: %w", err)
	}
	return c.rebuildFrom(records)
}

func (c *Cache) rebuildFrom(records []database.EmbeddingRecord) (*Snapshot, error) {
	start := time.Now()

	snap, err := Fit(records, c.k)
	if err != nil {
		return nil, err
	}
	c.current.Store(snap)

	c.log.Info("classifier rebuilt",
		zap.String("snapshot_id", snap.ID),
		logger.Count(snap.Size()),
		zap.Int64("max_id", snap.Generation.MaxID),
		logger.Duration(time.Since(start)),
	)

	if err := c.persist(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Classify runs the installed snapshot against a query.
func (c *Cache) Classify(query []float32) (Prediction, error) {
	snap := c.current.Load()
	if snap == nil {
		return Prediction{}, ErrNoSnapshot
	}
	return snap.Classify(query)
}

// Persist writes the installed snapshot to disk.
func (c *Cache) Persist() error {
	snap := c.current.Load()
	if snap == nil {
		return ErrNoSnapshot
	}
	return c.persist(snap)
}

func (c *Cache) persist(snap *Snapshot) error {
	if c.path == "" {
		return nil
	}
	if err := WriteFile(c.path, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot and installs it.
func (c *Cache) Load() error {
	if c.path == "" {
		return nil
	}
	snap, err := ReadFile(c.path)
	if err != nil {
		return err
	}
	if snap.K() != c.k {
		return fmt.Errorf("%w: snapshot k=%d, configured k=%d", ErrCorruptSnapshot, snap.K(), c.k)
	}
	c.current.Store(snap)
	return nil
}

// LoadBestEffort loads the persisted snapshot at startup. Any failure is
// logged and the cache stays empty.
func (c *Cache) LoadBestEffort() {
	err := c.Load()
	switch {
	case err == nil:
		if snap := c.current.Load(); snap != nil {
			c.log.Info("classifier snapshot loaded",
				zap.String("snapshot_id", snap.ID),
				logger.Count(snap.Size()),
			)
		}
	case errors.Is(err, os.ErrNotExist):
		c.log.Info("no persisted classifier snapshot", zap.String("path", c.path))
	default:
		c.log.Warn("ignoring unreadable classifier snapshot", zap.String("path", c.path), logger.Err(err))
	}
}

// Stale reports whether the installed snapshot was built from a different
// embedding set than the store currently holds. A missing snapshot is stale.
func (c *Cache) Stale(ctx context.Context) (bool, error) {
	snap := c.current.Load()
	if snap == nil {
		return true, nil
	}
	gen, err := c.reader.Generation(ctx)
	if err != nil {
		return false, fmt.Errorf("read store generation: %w", err)
	}
	return gen != snap.Generation, nil
}

// Warm loads the persisted snapshot and, when it is missing or stale,
// rebuilds it in the background. The returned channel is closed once the
// background work ends. Until then callers see the loaded snapshot or none.
func (c *Cache) Warm(ctx context.Context) <-chan struct{} {
	c.LoadBestEffort()

	done := make(chan struct{})
	go func() {
		defer close(done)

		stale, err := c.Stale(ctx)
		if err != nil {
			c.log.Warn("failed to check classifier staleness", logger.Err(err))
			return
		}
		if !stale {
			return
		}

		snap, err := c.Rebuild(ctx)
		switch {
		case errors.Is(err, ErrEmptyTrainingSet):
			c.log.Info("no embeddings enrolled yet, classifier left empty")
		case err != nil && snap == nil:
			c.log.Warn("failed to rebuild classifier", logger.Err(err))
		case err != nil:
			c.log.Warn("classifier rebuilt but not persisted", zap.String("snapshot_id", snap.ID), logger.Err(err))
		}
	}()
	return done
}

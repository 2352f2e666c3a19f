// Package faceauth coordinates enrollment and authentication on top of the
// descriptor store, the matcher and the classifier cache.
package faceauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-auth/internal/classifier"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Rebuilder refits the classifier over the current store contents.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*classifier.Snapshot, error)
}

// EnrollRequest carries a new identity and its face images.
type EnrollRequest struct {
	Profile  database.Profile
	Password string
	Images   []fingerprint.Image
}

// EnrollResult describes a completed enrollment.
type EnrollResult struct {
	Identity *database.Identity
	// Samples is the number of stored embeddings.
	Samples int
	// Dropped counts unsupported images and images without a face.
	Dropped int
	// SnapshotID is the classifier snapshot installed after the commit, empty
	// when no new snapshot could be built.
	SnapshotID string
}

// EnrollerOptions tunes an Enroller. Zero values use the defaults.
type EnrollerOptions struct {
	MinSamples int
	Workers    int
	// AllowedExtension reports whether an image extension is accepted.
	AllowedExtension func(ext string) bool
	// Progress is called after each image is processed.
	Progress func()
	Metrics  *metrics.Metrics
}

// Enroller runs the enrollment state machine:
// received, validated, persisted, trained, complete.
type Enroller struct {
	store     database.DescriptorStore
	extractor fingerprint.Extractor
	rebuilder Rebuilder

	minSamples int
	workers    int
	allowed    func(ext string) bool
	progress   func()
	metrics    *metrics.Metrics
}

// NewEnroller creates an enrollment coordinator.
func NewEnroller(store database.DescriptorStore, extractor fingerprint.Extractor, rebuilder Rebuilder, opts EnrollerOptions) *Enroller {
	e := &Enroller{
		store:      store,
		extractor:  extractor,
		rebuilder:  rebuilder,
		minSamples: opts.MinSamples,
		workers:    opts.Workers,
		allowed:    opts.AllowedExtension,
		progress:   opts.Progress,
		metrics:    opts.Metrics,
	}
	if e.minSamples <= 0 {
		e.minSamples = constants.MinEnrollmentSamples
	}
	if e.workers <= 0 {
		e.workers = constants.DefaultExtractWorkers
	}
	if e.allowed == nil {
		e.allowed = defaultAllowedExtension
	}
	return e
}

func defaultAllowedExtension(ext string) bool {
	switch ext {
	case "png", "jpg", "jpeg":
		return true
	}
	return false
}

// Enroll registers a new identity. Validation failures are returned before
// anything is written; the identity and its embeddings are committed in one
// transaction. A failed classifier rebuild is logged and does not fail the
// enrollment.
func (e *Enroller) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	log := logger.From(ctx).With(logger.Component("enroll"), zap.String("enrollment_id", uuid.NewString()))

	res, err := e.enroll(ctx, log, req)
	if err != nil {
		kind := KindOf(err)
		e.metrics.IncrementEnrollment(string(kind))
		log.Info("enrollment rejected", zap.String("kind", string(kind)), logger.Err(err))
		return nil, err
	}
	e.metrics.IncrementEnrollment("ok")
	return res, nil
}

func (e *Enroller) enroll(ctx context.Context, log *zap.Logger, req EnrollRequest) (*EnrollResult, error) {
	// Received
	profile := normalizeProfile(req.Profile)
	if missing := missingFields(profile, req.Password); len(missing) > 0 {
		return nil, New(KindIncompleteInput, "missing required fields: "+strings.Join(missing, ", "))
	}
	if len(req.Images) < e.minSamples {
		return nil, New(KindIncompleteInput,
			fmt.Sprintf("at least %d images are required, got %d", e.minSamples, len(req.Images)))
	}
	// Validated
	if err := e.store.CheckUnique(ctx, profile.Email, profile.Identifier); err != nil {
		if field, ok := database.DuplicateField(err); ok {
			return nil, duplicate(field)
		}
		return nil, Wrap(err, KindStorageFailure, "could not check existing identities")
	}

	vectors, dropped, err := e.extractAll(ctx, req.Images)
	if err != nil {
		return nil, err
	}
	if len(vectors) < e.minSamples {
		return nil, New(KindInsufficientValidSamples,
			fmt.Sprintf("faces found in %d of %d images, at least %d required", len(vectors), len(req.Images), e.minSamples))
	}

	// Persisted
	ident, err := e.store.Enroll(ctx, profile, req.Password, vectors)
	if err != nil {
		if field, ok := database.DuplicateField(err); ok {
			return nil, duplicate(field)
		}
		return nil, Wrap(err, KindStorageFailure, "could not store identity")
	}
	log = log.With(logger.IdentityID(ident.ID))
	log.Info("identity enrolled", logger.Count(len(vectors)), zap.Int("dropped", dropped))

	// Trained
	result := &EnrollResult{Identity: ident, Samples: len(vectors), Dropped: dropped}
	if snap := e.rebuild(ctx, log); snap != nil {
		result.SnapshotID = snap.ID
	}

	// Complete
	return result, nil
}

// extractAll runs the extractor over every image with bounded parallelism.
// Images in an unsupported format or without a face are dropped; any other
// extractor error aborts.
func (e *Enroller) extractAll(ctx context.Context, images []fingerprint.Image) ([][]float32, int, error) {
	results := make([][]float32, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range images {
		g.Go(func() error {
			if fingerprint.Validate(images[i], e.allowed) != nil {
				if e.progress != nil {
					e.progress()
				}
				return nil
			}
			start := time.Now()
			emb, err := e.extractor.Extract(gctx, images[i].Data)
			e.metrics.ObserveExtract(time.Since(start))
			if e.progress != nil {
				e.progress()
			}
			switch {
			case errors.Is(err, fingerprint.ErrNoFace), errors.Is(err, fingerprint.ErrUnsupportedFormat):
				return nil
			case err != nil:
				return Wrap(err, KindExtractorFailure, "face extraction failed")
			}
			results[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	vectors := make([][]float32, 0, len(images))
	for _, emb := range results {
		if emb != nil {
			vectors = append(vectors, emb)
		}
	}
	return vectors, len(images) - len(vectors), nil
}

// rebuild refits the classifier. Failures are logged only.
func (e *Enroller) rebuild(ctx context.Context, log *zap.Logger) *classifier.Snapshot {
	if e.rebuilder == nil {
		return nil
	}

	start := time.Now()
	snap, err := e.rebuilder.Rebuild(ctx)
	switch {
	case err == nil:
		e.metrics.ObserveRebuild("ok", time.Since(start))
		return snap
	case errors.Is(err, classifier.ErrEmptyTrainingSet):
		e.metrics.ObserveRebuild("empty", time.Since(start))
		return nil
	default:
		e.metrics.ObserveRebuild("error", time.Since(start))
		rebuildErr := Wrap(err, KindClassifierRebuildFailure, "classifier rebuild failed")
		log.Warn("classifier rebuild failed, matcher remains authoritative", logger.Err(rebuildErr))
		// Persist failures still install the new snapshot.
		return snap
	}
}

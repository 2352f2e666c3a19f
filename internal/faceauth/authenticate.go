package faceauth

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-auth/internal/classifier"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"go.uber.org/zap"
)

// SessionBinder binds an authenticated identity to a session.
type SessionBinder interface {
	Bind(ctx context.Context, identityID int64) error
}

// SessionBinderFunc adapts a function to SessionBinder.
type SessionBinderFunc func(ctx context.Context, identityID int64) error

// Bind calls f.
func (f SessionBinderFunc) Bind(ctx context.Context, identityID int64) error {
	return f(ctx, identityID)
}

// SnapshotSource exposes the currently installed classifier snapshot.
type SnapshotSource interface {
	Snapshot() *classifier.Snapshot
}

// CrossCheck is the classifier's opinion on an accepted login.
type CrossCheck struct {
	SnapshotID string `json:"snapshot_id"`
	IdentityID int64  `json:"identity_id"`
	Votes      int    `json:"votes"`
	Agreed     bool   `json:"agreed"`
}

// AuthResult describes an accepted login.
type AuthResult struct {
	Identity *database.Identity
	Distance float64
	// CrossCheck is nil when no snapshot matching the scanned embedding set
	// was installed.
	CrossCheck *CrossCheck
}

// AuthenticatorOptions tunes an Authenticator.
type AuthenticatorOptions struct {
	AllowedExtension func(ext string) bool
	Metrics          *metrics.Metrics
}

// Authenticator decides logins with the matcher. It never writes to the
// store or the classifier.
type Authenticator struct {
	identities database.IdentityReader
	matcher    *facematch.Matcher
	snapshots  SnapshotSource
	extractor  fingerprint.Extractor
	allowed    func(ext string) bool
	metrics    *metrics.Metrics
}

// NewAuthenticator creates an authentication coordinator. snapshots may be nil.
func NewAuthenticator(
	identities database.IdentityReader,
	matcher *facematch.Matcher,
	snapshots SnapshotSource,
	extractor fingerprint.Extractor,
	opts AuthenticatorOptions,
) *Authenticator {
	a := &Authenticator{
		identities: identities,
		matcher:    matcher,
		snapshots:  snapshots,
		extractor:  extractor,
		allowed:    opts.AllowedExtension,
		metrics:    opts.Metrics,
	}
	if a.allowed == nil {
		a.allowed = defaultAllowedExtension
	}
	return a
}

// Authenticate identifies the face in img. On accept the binder, when not
// nil, is handed the identity id. On reject the error is KindNotRecognized
// with the closest distance.
func (a *Authenticator) Authenticate(ctx context.Context, img fingerprint.Image, binder SessionBinder) (*AuthResult, error) {
	log := logger.From(ctx).With(logger.Component("authenticate"))

	res, err := a.authenticate(ctx, log, img, binder)
	if err != nil {
		kind := KindOf(err)
		a.metrics.IncrementAuthentication(string(kind))
		log.Info("authentication rejected", zap.String("kind", string(kind)), logger.Err(err))
		return nil, err
	}
	a.metrics.IncrementAuthentication("ok")
	return res, nil
}

func (a *Authenticator) authenticate(ctx context.Context, log *zap.Logger, img fingerprint.Image, binder SessionBinder) (*AuthResult, error) {
	if len(img.Data) == 0 {
		return nil, New(KindIncompleteInput, "an image is required")
	}
	if err := fingerprint.Validate(img, a.allowed); err != nil {
		return nil, Wrap(err, KindInvalidImageFormat, "only png, jpg and jpeg images are accepted")
	}

	query, err := a.extractor.Extract(ctx, img.Data)
	switch {
	case errors.Is(err, fingerprint.ErrNoFace):
		return nil, New(KindNoFaceDetected, "no face detected in the image")
	case errors.Is(err, fingerprint.ErrUnsupportedFormat):
		return nil, Wrap(err, KindInvalidImageFormat, "could not decode image")
	case err != nil:
		return nil, Wrap(err, KindExtractorFailure, "face extraction failed")
	}

	match, err := a.matcher.Match(ctx, query)
	if err != nil {
		return nil, Wrap(err, KindStorageFailure, "could not load embeddings")
	}
	if match.HasCandidate {
		a.metrics.ObserveMatchDistance(match.Distance)
	}
	if !match.Accepted {
		return nil, notRecognized(match.Distance)
	}

	ident, err := a.identities.IdentityByID(ctx, match.IdentityID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notRecognized(match.Distance)
	}
	if err != nil {
		return nil, Wrap(err, KindStorageFailure, "could not load identity")
	}

	log = log.With(logger.IdentityID(ident.ID), logger.Distance(match.Distance))
	result := &AuthResult{
		Identity:   ident,
		Distance:   match.Distance,
		CrossCheck: a.crossCheck(log, query, match),
	}

	if binder != nil {
		if err := binder.Bind(ctx, ident.ID); err != nil {
			return nil, Wrap(err, KindSessionFailure, "could not create session")
		}
	}

	log.Info("identity authenticated")
	return result, nil
}

// crossCheck asks the classifier for a second opinion. Only a snapshot built
// from the embedding set the matcher just scanned is consulted.
func (a *Authenticator) crossCheck(log *zap.Logger, query []float32, match facematch.Result) *CrossCheck {
	if a.snapshots == nil {
		return nil
	}
	snap := a.snapshots.Snapshot()
	if snap == nil || snap.Generation != match.Generation {
		return nil
	}

	pred, err := snap.Classify(query)
	if err != nil {
		log.Debug("classifier cross-check skipped", logger.Err(err))
		return nil
	}

	check := &CrossCheck{
		SnapshotID: snap.ID,
		IdentityID: pred.IdentityID,
		Votes:      pred.Votes,
		Agreed:     pred.IdentityID == match.IdentityID,
	}
	a.metrics.IncrementAgreement(check.Agreed)
	if !check.Agreed {
		log.Warn("classifier disagrees with matcher", zap.Int64("classifier_identity_id", pred.IdentityID))
	}
	return check
}

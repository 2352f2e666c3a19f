package constants

import "time"

// File upload constants
const (
	// MaxUploadSize is the maximum size of a multipart form (enrollment batches included)
	MaxUploadSize = 64 << 20

	// MaxImageSize is the maximum size of a single uploaded image
	MaxImageSize = 10 << 20
)

// Session constants
const (
	// SessionDuration is how long a login session stays valid
	SessionDuration = 24 * time.Hour

	// SessionCleanupInterval is how often expired sessions are purged
	SessionCleanupInterval = time.Hour
)

package logger

import (
	"time"

	"go.uber.org/zap"
)

// IdentityID is the field for a registered identity.
func IdentityID(v int64) zap.Field {
	return zap.Int64("identity_id", v)
}

// RequestID is the field for the HTTP request id.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Component tags the emitting module.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op is the field for the current operation.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Distance is the field for an embedding distance.
func Distance(v float64) zap.Field {
	return zap.Float64("distance", v)
}

// Count is the field for a count.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Duration is the field for an elapsed time.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Err is the field for an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Package logger provides a singleton zap logger with context-based scoping.
//
// Initialise once from the command entry point:
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// In request-scoped code prefer logger.From(ctx), which falls back to the
// singleton when no scoped logger was injected.
package logger

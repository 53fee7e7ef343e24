// Package logging provides a minimal logging interface and adapters for parley.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) that the admission controller, invoker, dialogue generator and
// conversation manager use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter wrapping github.com/rs/zerolog (used by the CLI)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewZerologAdapter(zerolog.New(os.Stderr).With().Timestamp().Logger())
//	ctrl := admission.New(func(o *admission.Options) { o.Logger = logger })
//
// Components default to NoOpLogger so logging never becomes a hard dependency.
package logging

package reactio

import "log/slog"

// defaultInternalBufferSize is the size of the internal scratch buffer an
// Aiofd allocates for callers that pass a nil buffer to Read (ReadV
// rejects an empty iovec instead).
const defaultInternalBufferSize = 64 * 1024

// loopOptions configures a Loop. Constructed via LoopOption closures,
// the usual functional-options idiom for configuring a long-lived
// reactor object without a sprawling constructor signature.
type loopOptions struct {
	logger *slog.Logger
}

// LoopOption configures a Loop at construction time.
type LoopOption func(*loopOptions)

// WithLoopLogger attaches a structured logger to a Loop. A nil logger (the
// default) falls back to slog.Default().
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(o *loopOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultLoopOptions() *loopOptions {
	return &loopOptions{logger: slog.Default()}
}

// aiofdOptions configures an Aiofd.
type aiofdOptions struct {
	bufSize int
	logger  *slog.Logger
}

// AiofdOption configures an Aiofd at construction time.
type AiofdOption func(*aiofdOptions)

// WithAiofdBufferSize overrides the internal scratch-read buffer size
// used when a caller passes a nil buffer to Read.
func WithAiofdBufferSize(n int) AiofdOption {
	return func(o *aiofdOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// WithAiofdLogger attaches a structured logger to an Aiofd.
func WithAiofdLogger(l *slog.Logger) AiofdOption {
	return func(o *aiofdOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultAiofdOptions() *aiofdOptions {
	return &aiofdOptions{bufSize: defaultInternalBufferSize, logger: slog.Default()}
}

// socketOptions configures a Socket.
type socketOptions struct {
	aiFlags   int
	aiFamily  int
	backlog   int
	reuseport bool
	logger    *slog.Logger
}

// SocketOption configures a Socket at construction time.
type SocketOption func(*socketOptions)

// WithAIFlags sets the getaddrinfo-equivalent hint flags (e.g. AI_PASSIVE
// for bind-any servers).
func WithAIFlags(flags int) SocketOption {
	return func(o *socketOptions) { o.aiFlags = flags }
}

// WithAIFamily constrains resolution to a specific address family
// (unix.AF_INET, unix.AF_INET6, or 0 for unspecified).
func WithAIFamily(family int) SocketOption {
	return func(o *socketOptions) { o.aiFamily = family }
}

// WithBacklog overrides the Listen() backlog (default 128).
func WithBacklog(n int) SocketOption {
	return func(o *socketOptions) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithReusePort additionally sets SO_REUSEPORT (where supported) on Bind,
// alongside the always-on SO_REUSEADDR.
func WithReusePort() SocketOption {
	return func(o *socketOptions) { o.reuseport = true }
}

// WithSocketLogger attaches a structured logger to a Socket.
func WithSocketLogger(l *slog.Logger) SocketOption {
	return func(o *socketOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

const defaultBacklog = 128

func defaultSocketOptions() *socketOptions {
	return &socketOptions{backlog: defaultBacklog, logger: slog.Default()}
}

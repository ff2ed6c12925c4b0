package transport

import (
	"context"
	"fmt"
)

// Transport is a bidirectional byte link to a controller.
//
// A Transport is owned by one goroutine; Close may be called from any goroutine to
// unblock a pending TryRead.
type Transport interface {
	// Write sends p in full or returns an error.
	Write(p []byte) (int, error)
	// TryRead reads available bytes into p. It returns (0, nil) when nothing arrived
	// within the read timeout and a *ConnectionError when the link failed.
	TryRead(p []byte) (int, error)
	// Close releases the link. It is safe to call more than once.
	Close() error
	// String describes the link for logs.
	String() string
}

// Opener opens a transport for a configuration.
type Opener func(ctx context.Context, cfg *Config) (Transport, error)

// Open opens the link described by cfg.
func Open(ctx context.Context, cfg *Config) (Transport, error) {
	switch cfg.kind {
	case Serial:
		return openSerial(ctx, cfg)
	case TCP:
		return openTCP(ctx, cfg)
	case WebSocket:
		return openWebSocket(ctx, cfg)
	default:
		return nil, fmt.Errorf("transport: unsupported kind %s", cfg.kind)
	}
}

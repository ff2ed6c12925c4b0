//go:build !linux

package transport

import (
	"context"

	"github.com/arloliu/go-cnc/logger"
)

// Watch is only available on Linux.
func Watch(_ context.Context, _ logger.Logger, _ func(PortEvent)) error {
	return ErrWatchUnsupported
}

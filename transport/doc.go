// Package transport provides the byte links between the engine and a CNC controller board.
//
// Three links are supported: a serial port, a raw TCP socket (serial-to-network bridges,
// FluidNC telnet) and a WebSocket (FluidNC and grblHAL web ports). Every link implements
// Transport, whose TryRead returns (0, nil) when nothing arrived within the configured
// read timeout so the caller can interleave reads with writes on one goroutine.
//
// A Config is created with NewSerialConfig, NewTCPConfig or NewWebSocketConfig and
// functional options:
//
//	cfg, err := transport.NewSerialConfig("/dev/ttyUSB0",
//		transport.WithBaudRate(115200),
//		transport.WithReadTimeout(20*time.Millisecond),
//	)
//	t, err := transport.Open(ctx, cfg)
package transport

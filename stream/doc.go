// Package stream implements character-counting flow control for streaming programs to a
// CNC controller.
//
// The controller acknowledges lines strictly in the order it receives them, so the Manager
// keeps sent-but-unacknowledged commands in a FIFO PendingQueue and matches every "ok" or
// "error" response against the oldest entry. A line is only written while the bytes in
// flight plus its own length fit the controller receive buffer.
//
// Manager performs no I/O. The controller I/O loop asks it for the next command to write
// with Take and reports every decoded response with OnResponse.
package stream

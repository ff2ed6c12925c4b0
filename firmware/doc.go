// Package firmware encodes commands for and decodes responses from CNC controller firmware.
//
// A Codec hides the wire differences between firmware families behind one event contract.
// The GRBL family (GRBL, grblHAL, FluidNC) and Smoothieware speak a newline terminated text
// protocol with short literal responses such as "ok", "error:9" and bracketed status reports.
// TinyG and g2core exchange single-line JSON objects instead.
//
// Decode accepts arbitrary fragments of the received byte stream. Partial lines are buffered
// by a LineAssembler and only interpreted once their terminator arrives, so a response split
// across two reads produces exactly one Event.
//
// Real-time commands are encoded separately by EncodeRealtime. They are single bytes (or very
// short strings) the firmware acts on immediately, outside the line protocol and its buffer
// accounting.
package firmware

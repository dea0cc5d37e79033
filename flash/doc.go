// Package flash owns the reliable transfer session used to push firmware
// and resource images to the target over a best-effort socket.
//
// Ownership boundary:
// - erase/write/crc/query/finalize command wire structs
// - windowed retransmission loop for bulk writes
// - bounded command/response retry helpers
package flash

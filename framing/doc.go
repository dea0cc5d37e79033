// Package framing owns the PULSE wire framing primitives.
//
// Ownership boundary:
// - COBS transparency codec (flag-free frame bodies)
// - FCS trailer (CRC-32, little-endian)
// - stateful splitter for arbitrarily-chunked streams
package framing

// Package link owns the live PULSE link: the Interface that runs the single
// receive loop over one physical stream, the Sockets it multiplexes, the
// link control protocol that negotiates and monitors the session, and the
// Link/transport surface handed to applications.
//
// Ownership boundary:
// - channel table and dispatch (one receive goroutine per Interface)
// - LCP negotiation, keepalive, restart
// - Link epochs and named transports
package link

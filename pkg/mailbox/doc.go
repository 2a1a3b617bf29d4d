// Package mailbox is a software implementation of hal.Link shaped after
// a doorbell/MHU mailbox transport: a fixed number of shared data
// channels plus a notify bit, one link per pair of communicating nodes.
//
// Doorbell is the concrete hal.Link; Pipe provides a deterministic
// in-memory connection pair (built on pion/transport/v3's test.Bridge)
// for wiring two Doorbells together in tests without real network I/O.
package mailbox

// Package handshake drives the per-trusted-subnet session key setup,
// re-keying, and mutual authentication state machines.
//
// A Driver is the initiator side: it kicks a subnet's handshake off from
// *Required state and, optionally, blocks until the subnet reaches a
// terminal state. A Responder is the side that reacts to handshake
// packets arriving from other nodes, whichever role — client or server —
// the local node plays for a given subnet. Both operate on the same
// subnet.Table state and per-subnet Scratchpad bookkeeping, since a node
// is simultaneously the server for some trusted subnets and a client for
// others.
package handshake

// Package subnet implements trusted subnet configuration, per-node
// sequence-number bookkeeping, and the session-key lifecycle state for
// an SFCP node.
//
// A trusted subnet groups the local node with one or more remote nodes
// that share a cryptography mode and, once a session key has been
// derived, a common key ID. The Table tracks the current State of each
// subnet plus a per-remote-node send counter and anti-replay window.
package subnet

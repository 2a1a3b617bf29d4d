// Package hal defines the abstract hardware/platform boundary that the
// rest of this module is built against: a doorbell-style Link transport,
// an AEAD/hash/random Crypto provider, and a Platform describing the
// local node's routing tables and trusted subnets.
//
// Concrete implementations live in pkg/mailbox (Link), pkg/cryptohal
// (Crypto), and pkg/platform (Platform). None of the interfaces here
// prescribe a register layout or a key-storage format — that is left to
// whichever concrete HAL a node is built with.
package hal

// Package encryption implements the packet encrypt/decrypt transform
// shared by message and reply packets: AEAD nonce and AAD construction
// from the wire header and cryptography metadata, sequence-number
// allocation and anti-replay checking against a subnet.Table, and the
// actual seal/open call into a hal.Crypto.
package encryption

// Package cryptohal is a software implementation of hal.Crypto: AES-256-CCM
// sealing/opening, SHA-384 hashing for session key derivation, HKDF-based
// rekeying, and an in-memory key table with zeroize-on-release semantics.
//
// It exists so this module's engine and handshake packages have something
// concrete to run against in tests; a real root-of-trust deployment would
// back hal.Crypto with a hardware key store instead.
package cryptohal

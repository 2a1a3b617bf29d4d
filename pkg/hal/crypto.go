package hal

// Crypto is the AEAD/hash/random/key-derivation provider consumed by
// pkg/encryption and pkg/handshake. Implementations own key storage;
// callers address keys only by the opaque keyID a prior
// DeriveSessionKey/Rekey call returned.
type Crypto interface {
	// EncryptPacket seals plaintext under the key named by keyID, binding
	// nonce and aad, and returns the ciphertext (same length as
	// plaintext) and the authentication tag.
	EncryptPacket(keyID uint32, nonce, aad, plaintext []byte) (ciphertext, tag []byte, err error)

	// DecryptPacket opens ciphertext under the key named by keyID,
	// verifying tag against nonce and aad. Returns an error on
	// authentication failure (cryptohal.Provider reports
	// cryptohal.ErrAuthFailed).
	DecryptPacket(keyID uint32, nonce, aad, ciphertext, tag []byte) (plaintext []byte, err error)

	// Hash returns a cryptographic digest of the concatenation of data.
	Hash(data ...[]byte) []byte

	// Random fills buf with cryptographically secure random bytes.
	Random(buf []byte) error

	// DeriveSessionKey derives a fresh session key from the IVs exchanged
	// during a handshake, in the fixed node-ID order the handshake
	// assembled them in, and returns the opaque ID the key is now stored
	// under.
	DeriveSessionKey(ivsInOrder [][]byte) (keyID uint32, err error)

	// Rekey derives a replacement for the key named by oldKeyID using a
	// newly exchanged IV, returning the new key's ID. The old key remains
	// valid until InvalidateKey is called on it.
	Rekey(oldKeyID uint32, ivNew []byte) (newKeyID uint32, err error)

	// InvalidateKey zeroizes and releases the key named by keyID.
	InvalidateKey(keyID uint32) error
}

package cryptohal

import (
	"crypto/rand"
	"crypto/sha512"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// DefaultMaxKeys bounds the number of session keys a Provider holds at
// once — one per trusted subnet is the expected steady-state load, plus
// headroom for a key mid-rekey.
const DefaultMaxKeys = 32

// Provider is an in-memory, software-only implementation of hal.Crypto.
// Keys are addressed by an opaque, monotonically increasing ID and are
// zeroized when released.
type Provider struct {
	mu      sync.Mutex
	keys    map[uint32]*ccm
	nextID  uint32
	maxKeys int
}

// NewProvider constructs a Provider with DefaultMaxKeys capacity.
func NewProvider() *Provider {
	return NewProviderWithCapacity(DefaultMaxKeys)
}

// NewProviderWithCapacity constructs a Provider holding at most maxKeys
// session keys at once.
func NewProviderWithCapacity(maxKeys int) *Provider {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{
		keys:    make(map[uint32]*ccm),
		nextID:  1,
		maxKeys: maxKeys,
	}
}

func (p *Provider) storeLocked(key []byte) (uint32, error) {
	if len(p.keys) >= p.maxKeys {
		return 0, ErrKeyTableFull
	}

	c, err := newCCM(key)
	if err != nil {
		return 0, err
	}

	id := p.nextID
	p.nextID++
	p.keys[id] = c
	return id, nil
}

// EncryptPacket implements hal.Crypto.
func (p *Provider) EncryptPacket(keyID uint32, nonce, aad, plaintext []byte) ([]byte, []byte, error) {
	p.mu.Lock()
	c, ok := p.keys[keyID]
	p.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownKey
	}
	return c.seal(nonce, plaintext, aad)
}

// DecryptPacket implements hal.Crypto.
func (p *Provider) DecryptPacket(keyID uint32, nonce, aad, ciphertext, tag []byte) ([]byte, error) {
	p.mu.Lock()
	c, ok := p.keys[keyID]
	p.mu.Unlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return c.open(nonce, ciphertext, tag, aad)
}

// Hash implements hal.Crypto using SHA-384, the digest this protocol's
// session key derivation is defined in terms of.
func (p *Provider) Hash(data ...[]byte) []byte {
	h := sha512.New384()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Random implements hal.Crypto using the platform CSPRNG.
func (p *Provider) Random(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// DeriveSessionKey implements hal.Crypto: the session key is the first
// KeySize bytes of SHA-384(iv_0 || iv_1 || ... || iv_n), the IVs
// concatenated in the fixed node-ID order the handshake assembled them
// in.
func (p *Provider) DeriveSessionKey(ivsInOrder [][]byte) (uint32, error) {
	if len(ivsInOrder) == 0 {
		return 0, ErrNoIVs
	}

	digest := p.Hash(ivsInOrder...)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storeLocked(digest[:KeySize])
}

// Rekey implements hal.Crypto: the replacement key is derived from the
// outgoing key via HKDF-SHA384, salted with the newly exchanged IV. The
// old key is left in place until InvalidateKey is called on it.
func (p *Provider) Rekey(oldKeyID uint32, ivNew []byte) (uint32, error) {
	p.mu.Lock()
	old, ok := p.keys[oldKeyID]
	p.mu.Unlock()
	if !ok {
		return 0, ErrUnknownKey
	}

	oldKeyBytes := make([]byte, KeySize)
	// The cipher instance cannot give its key back, so each ccm keeps
	// the raw key (rawKey) alongside it for Rekey to derive from.
	copy(oldKeyBytes, old.rawKey)

	r := hkdf.New(sha512.New384, oldKeyBytes, ivNew, []byte("sfcp rekey"))
	newKey := make([]byte, KeySize)
	if _, err := r.Read(newKey); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storeLocked(newKey)
}

// InvalidateKey implements hal.Crypto, zeroizing the key before releasing
// its slot.
func (p *Provider) InvalidateKey(keyID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.keys[keyID]
	if !ok {
		return ErrUnknownKey
	}
	c.zeroize()
	delete(p.keys, keyID)
	return nil
}

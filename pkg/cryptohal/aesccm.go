// AES-256-CCM, generalized from a 128-bit Matter-profile CCM
// implementation to the 256-bit key / 8-byte nonce shape this protocol's
// packet nonce construction requires (header bytes + encryption config
// bytes).
package cryptohal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-256-CCM constants for this protocol's packet nonce/tag shape.
const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// TagSize is the authentication tag size in bytes.
	TagSize = 16

	// NonceSize is the nonce size in bytes: a 4-byte packet header plus a
	// 4-byte encryption config (seq_num, mode, trusted_subnet_id).
	NonceSize = 8

	aesBlockSize = 16
)

// CCM errors.
var (
	ErrInvalidKeySize     = errors.New("cryptohal: invalid key size, must be 32 bytes")
	ErrInvalidNonceSize   = errors.New("cryptohal: invalid nonce size, must be 8 bytes")
	ErrPlaintextTooLong   = errors.New("cryptohal: plaintext too long")
	ErrCiphertextTooShort = errors.New("cryptohal: ciphertext too short")
	ErrAuthFailed         = errors.New("cryptohal: message authentication failed")
)

// ccm is an AES-256-CCM cipher instance bound to a fixed 8-byte nonce and
// 16-byte tag.
type ccm struct {
	block   cipher.Block
	rawKey  []byte
	tagSize int
	lenSize int
}

func newCCM(key []byte) (*ccm, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	rawKey := make([]byte, KeySize)
	copy(rawKey, key)

	return &ccm{
		block:   block,
		rawKey:  rawKey,
		tagSize: TagSize,
		lenSize: 15 - NonceSize,
	}, nil
}

// zeroize overwrites the retained raw key material. The cipher.Block
// itself still holds an expanded key schedule derived from it; this
// instance must not be used after zeroize.
func (c *ccm) zeroize() {
	for i := range c.rawKey {
		c.rawKey[i] = 0
	}
}

// seal encrypts and authenticates plaintext, returning ciphertext (same
// length as plaintext) and the detached authentication tag.
func (c *ccm) seal(nonce, plaintext, aad []byte) (ciphertext, tag []byte, err error) {
	if len(nonce) != NonceSize {
		return nil, nil, ErrInvalidNonceSize
	}

	maxPlaintextLen := (1 << (8 * c.lenSize)) - 1
	if len(plaintext) > maxPlaintextLen {
		return nil, nil, ErrPlaintextTooLong
	}

	t := c.computeTag(nonce, plaintext, aad)

	s0 := c.generateS0(nonce)
	encTag := make([]byte, c.tagSize)
	for i := 0; i < c.tagSize; i++ {
		encTag[i] = t[i] ^ s0[i]
	}

	ct := make([]byte, len(plaintext))
	c.ctrCrypt(nonce, ct, plaintext)

	return ct, encTag, nil
}

// open decrypts ciphertext and verifies it against tag.
func (c *ccm) open(nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(tag) != c.tagSize {
		return nil, ErrCiphertextTooShort
	}

	s0 := c.generateS0(nonce)
	receivedTag := make([]byte, c.tagSize)
	for i := 0; i < c.tagSize; i++ {
		receivedTag[i] = tag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(ciphertext))
	c.ctrCrypt(nonce, plaintext, ciphertext)

	expectedTag := c.computeTag(nonce, plaintext, aad)

	if subtle.ConstantTimeCompare(receivedTag, expectedTag[:c.tagSize]) != 1 {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// computeTag computes the CBC-MAC authentication tag per NIST 800-38C.
func (c *ccm) computeTag(nonce, plaintext, aad []byte) []byte {
	var b0 [aesBlockSize]byte
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(c.lenSize - 1)

	b0[0] = flags
	copy(b0[1:1+NonceSize], nonce)
	c.putLength(b0[1+NonceSize:], len(plaintext))

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var aadBlock [aesBlockSize]byte
		aadLen := len(aad)
		var headerLen int

		if aadLen < (1<<16)-(1<<8) {
			binary.BigEndian.PutUint16(aadBlock[0:2], uint16(aadLen))
			headerLen = 2
		} else if aadLen < (1 << 32) {
			aadBlock[0] = 0xFF
			aadBlock[1] = 0xFE
			binary.BigEndian.PutUint32(aadBlock[2:6], uint32(aadLen))
			headerLen = 6
		} else {
			aadBlock[0] = 0xFF
			aadBlock[1] = 0xFF
			binary.BigEndian.PutUint64(aadBlock[2:10], uint64(aadLen))
			headerLen = 10
		}

		firstBlockAAD := aesBlockSize - headerLen
		if firstBlockAAD > len(aad) {
			firstBlockAAD = len(aad)
		}
		copy(aadBlock[headerLen:], aad[:firstBlockAAD])

		for i := 0; i < aesBlockSize; i++ {
			mac[i] ^= aadBlock[i]
		}
		c.block.Encrypt(mac, mac)

		remaining := aad[firstBlockAAD:]
		for len(remaining) > 0 {
			var block [aesBlockSize]byte
			n := copy(block[:], remaining)
			remaining = remaining[n:]

			for i := 0; i < aesBlockSize; i++ {
				mac[i] ^= block[i]
			}
			c.block.Encrypt(mac, mac)
		}
	}

	remaining := plaintext
	for len(remaining) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], remaining)
		remaining = remaining[n:]

		for i := 0; i < aesBlockSize; i++ {
			mac[i] ^= block[i]
		}
		c.block.Encrypt(mac, mac)
	}

	return mac[:c.tagSize]
}

// generateS0 derives S_0 = E(K, A_0), the keystream block used to mask
// the authentication tag.
func (c *ccm) generateS0(nonce []byte) []byte {
	var a0 [aesBlockSize]byte
	a0[0] = byte(c.lenSize - 1)
	copy(a0[1:1+NonceSize], nonce)

	s0 := make([]byte, aesBlockSize)
	c.block.Encrypt(s0, a0[:])
	return s0
}

// ctrCrypt runs CTR mode starting from counter 1.
func (c *ccm) ctrCrypt(nonce []byte, dst, src []byte) {
	var ctr [aesBlockSize]byte
	ctr[0] = byte(c.lenSize - 1)
	copy(ctr[1:1+NonceSize], nonce)
	ctr[aesBlockSize-1] = 1

	var keystream [aesBlockSize]byte
	for i := 0; i < len(src); i += aesBlockSize {
		c.block.Encrypt(keystream[:], ctr[:])

		end := i + aesBlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}

		incrementCounter(ctr[aesBlockSize-c.lenSize:])
	}
}

func (c *ccm) putLength(dst []byte, length int) {
	for i := c.lenSize - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

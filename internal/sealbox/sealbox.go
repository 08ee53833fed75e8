// Package sealbox implements anonymous public-key boxes: X25519 with an
// ephemeral sender key, HKDF-SHA256 key derivation and ChaCha20-Poly1305.
//
// Box layout: version(1) || ephemeral public key(32) || ciphertext+tag.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	version1     = 0x01
	keySize      = 32
	hkdfInfoBox  = "sealedmsg-box-v1"
	headerLength = 1 + keySize
)

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = headerLength + chacha20poly1305.Overhead

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = rand.Reader
)

// UseDeterministicRandom swaps the randomness source for deterministic testing
// and returns a restore function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

type PublicKey [keySize]byte

func (k PublicKey) String() string { return base64.RawURLEncoding.EncodeToString(k[:]) }

func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != keySize {
		return pk, ErrInvalidKey
	}
	copy(pk[:], raw)
	return pk, nil
}

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(b []byte) error {
	pk, err := ParsePublicKey(string(b))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}

type KeyPair struct {
	Public  PublicKey
	Private [keySize]byte
}

// GenerateKeyPair creates a clamped X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var priv [keySize]byte
	if err := readRandom(priv[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivate(priv)
}

func KeyPairFromPrivate(priv [keySize]byte) (KeyPair, error) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Seal encrypts plaintext so that only the holder of recipient's private key
// can open it. aad is authenticated but not encrypted.
func Seal(recipient PublicKey, plaintext, aad []byte) ([]byte, error) {
	eph, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(eph.Private[:], recipient[:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	key, nonce, err := deriveCipherParams(shared, eph.Public, recipient)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerLength, headerLength+len(plaintext)+aead.Overhead())
	out[0] = version1
	copy(out[1:], eph.Public[:])
	return aead.Seal(out, nonce[:], plaintext, aad), nil
}

// Open decrypts a box produced by Seal for kp.Public.
func Open(kp KeyPair, box, aad []byte) ([]byte, error) {
	if len(box) < Overhead {
		return nil, ErrMalformedBox
	}
	if box[0] != version1 {
		return nil, ErrUnknownVersion
	}
	var ephPub PublicKey
	copy(ephPub[:], box[1:headerLength])
	shared, err := curve25519.X25519(kp.Private[:], ephPub[:])
	if err != nil {
		return nil, ErrMalformedBox
	}
	key, nonce, err := deriveCipherParams(shared, ephPub, kp.Public)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:], box[headerLength:], aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// SealString is Seal with a base64url encoded result.
func SealString(recipient PublicKey, plaintext, aad []byte) (string, error) {
	box, err := Seal(recipient, plaintext, aad)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(box), nil
}

// OpenString is the inverse of SealString.
func OpenString(kp KeyPair, box string, aad []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(box)
	if err != nil {
		return nil, ErrMalformedBox
	}
	return Open(kp, raw, aad)
}

// The ephemeral key is fresh per box, so a nonce derived with the key is
// never reused under the same key.
func deriveCipherParams(shared []byte, eph, recipient PublicKey) ([32]byte, [12]byte, error) {
	salt := make([]byte, 0, 2*keySize)
	salt = append(salt, eph[:]...)
	salt = append(salt, recipient[:]...)
	hk := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfoBox))
	var key [32]byte
	var nonce [12]byte
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	if _, err := io.ReadFull(hk, nonce[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	return key, nonce, nil
}

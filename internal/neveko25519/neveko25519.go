// Package neveko25519 implements the shared-secret message cipher.
//
// Each peer holds a curve-25519 scalar as its secret key; the base-point
// multiple is published as the NMPK. Both sides derive the same shared
// secret ss = sk_self * pk_peer, hash it into a scalar h, and treat the
// message as a little-endian big integer: ciphertext x = m + h, plaintext
// m = x - h'. The wire form is the hex-encoded little-endian bytes of x.
package neveko25519

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
)

// Direction selects which side of the additive cipher runs.
type Direction int

const (
	// Encipher adds the derived scalar to the message integer.
	Encipher Direction = iota
	// Decipher subtracts the peer's mirror derivation.
	Decipher
)

// ErrCiphertext is returned when the wire form cannot be deciphered with
// the derived scalar, which means the peers' keys do not match.
var ErrCiphertext = errors.New("neveko25519: ciphertext does not match key material")

// KeyPair is a curve-25519 scalar and its base-point multiple.
type KeyPair struct {
	sk *edwards25519.Scalar
	pk *edwards25519.Point
}

// GenerateKeyPair creates a fresh message key pair from the system RNG.
func GenerateKeyPair() (*KeyPair, error) {
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("rng failure: %w", err)
	}
	sk, err := edwards25519.NewScalar().SetUniformBytes(seed)
	if err != nil {
		return nil, err
	}
	return &KeyPair{sk: sk, pk: new(edwards25519.Point).ScalarBaseMult(sk)}, nil
}

// KeyPairFromHex restores a key pair from a hex-encoded 32-byte scalar.
func KeyPairFromHex(skHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(skHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key hex: %w", err)
	}
	sk, err := edwards25519.NewScalar().SetCanonicalBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return &KeyPair{sk: sk, pk: new(edwards25519.Point).ScalarBaseMult(sk)}, nil
}

// SecretHex returns the hex-encoded secret scalar for persistence.
func (k *KeyPair) SecretHex() string {
	return hex.EncodeToString(k.sk.Bytes())
}

// PublicHex returns the hex-encoded NMPK.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.pk.Bytes())
}

// sharedSecretHex derives the hex-encoded compressed shared-secret point
// against the peer's NMPK. Both peers arrive at the same value.
func (k *KeyPair) sharedSecretHex(peerPubHex string) (string, error) {
	raw, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return "", fmt.Errorf("invalid nmpk hex: %w", err)
	}
	peer, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return "", fmt.Errorf("invalid nmpk point: %w", err)
	}
	if string(peer.Bytes()) != string(raw) {
		return "", errors.New("invalid nmpk point: non-canonical encoding")
	}
	ss := new(edwards25519.Point).ScalarMult(k.sk, peer)
	return hex.EncodeToString(ss.Bytes()), nil
}

// hashToScalar maps the input strings into a scalar below the group
// order. Each input is hashed with SHA-512 and the hex digests are
// concatenated; the result is rejection-sampled until its little-endian
// value is canonical.
func hashToScalar(parts ...string) *edwards25519.Scalar {
	var seed string
	for _, p := range parts {
		digest := sha512.Sum512([]byte(p))
		seed += hex.EncodeToString(digest[:])
	}
	for {
		digest := sha512.Sum512([]byte(seed))
		candidate := make([]byte, 32)
		copy(candidate, digest[:32])
		// top three bits must clear for a canonical little-endian scalar
		if sc, err := edwards25519.NewScalar().SetCanonicalBytes(candidate); err == nil {
			return sc
		}
		seed = hex.EncodeToString(digest[:])
	}
}

// Cipher runs the additive cipher in the given direction. For Encipher
// the message is plaintext and the hex wire form of x = m + h is
// returned; for Decipher the message is the wire form and the recovered
// plaintext is returned.
func (k *KeyPair) Cipher(peerPubHex, message string, direction Direction) (string, error) {
	ssHex, err := k.sharedSecretHex(peerPubHex)
	if err != nil {
		return "", err
	}
	h := hashToScalar(ssHex)
	hInt := leToBigInt(h.Bytes())

	if direction == Encipher {
		m := leToBigInt([]byte(message))
		x := new(big.Int).Add(m, hInt)
		return hex.EncodeToString(bigIntToLE(x)), nil
	}

	raw, err := hex.DecodeString(message)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext hex: %w", err)
	}
	x := leToBigInt(raw)
	m := new(big.Int).Sub(x, hInt)
	if m.Sign() < 0 {
		return "", ErrCiphertext
	}
	return string(bigIntToLE(m)), nil
}

// leToBigInt interprets b as a little-endian unsigned integer.
func leToBigInt(b []byte) *big.Int {
	le := make([]byte, len(b))
	for i, v := range b {
		le[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(le)
}

// bigIntToLE renders n as little-endian bytes with no trailing zeros.
func bigIntToLE(n *big.Int) []byte {
	be := n.Bytes()
	le := make([]byte, len(be))
	for i, v := range be {
		le[len(be)-1-i] = v
	}
	return le
}

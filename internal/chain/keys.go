package chain

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

const (
	// PublicKeySize is the length of an account address.
	PublicKeySize = 32
	// SignatureSize is the length of a transaction signature.
	SignatureSize = 64
)

// ErrInvalidKey is returned for malformed addresses or keypairs.
var ErrInvalidKey = errors.New("invalid key")

// PublicKey is a 32-byte account address.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBase58 decodes a base58 address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: address must decode to %d bytes", ErrInvalidKey, PublicKeySize)
	}
	copy(pk[:], raw)
	return pk, nil
}

// PublicKeyFromBytes copies a 32-byte slice into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPublicKey panics on malformed input; use only for compile-time constants.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p PublicKey) String() string { return base58.Encode(p[:]) }

// Short returns the abbreviated form used in logs and pass fields.
func (p PublicKey) Short() string { return ShortAddress(p.String()) }

func (p PublicKey) IsZero() bool { return p == PublicKey{} }

func (p PublicKey) Bytes() []byte { return append([]byte(nil), p[:]...) }

func (p PublicKey) Equals(o PublicKey) bool { return bytes.Equal(p[:], o[:]) }

func (p PublicKey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PublicKey) UnmarshalText(text []byte) error {
	pk, err := PublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// ShortAddress keeps the first and last four characters of an address.
func ShortAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}

// Hash is a 32-byte blockhash.
type Hash [32]byte

// HashFromBase58 decodes a base58 blockhash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("invalid blockhash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// Signature is an Ed25519 transaction signature; its base58 form is the transaction id.
type Signature [SignatureSize]byte

// SignatureFromBase58 decodes a transaction id.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != SignatureSize {
		return sig, fmt.Errorf("invalid signature %q", s)
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	sig, err := SignatureFromBase58(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

// Keypair is an Ed25519 signing key together with its address.
type Keypair struct {
	key ed25519.PrivateKey
}

// NewKeypair generates a keypair from r; nil means crypto/rand.
func NewKeypair(r io.Reader) (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{key: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	return Keypair{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeypairFromBytes accepts the 64-byte seed||public layout used by wallet key files and
// checks that the public half matches the seed.
func KeypairFromBytes(b []byte) (Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return Keypair{}, fmt.Errorf("%w: keypair must be %d bytes", ErrInvalidKey, ed25519.PrivateKeySize)
	}
	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(priv[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
		return Keypair{}, fmt.Errorf("%w: public key does not match secret", ErrInvalidKey)
	}
	return Keypair{key: priv}, nil
}

func (k Keypair) PublicKey() PublicKey {
	var pk PublicKey
	if len(k.key) == ed25519.PrivateKeySize {
		copy(pk[:], k.key[ed25519.SeedSize:])
	}
	return pk
}

// Sign signs msg with the keypair.
func (k Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.key, msg))
	return sig
}

// PrivateKey exposes the underlying key for message signing.
func (k Keypair) PrivateKey() ed25519.PrivateKey { return k.key }

// Bytes returns a copy of the 64-byte secret.
func (k Keypair) Bytes() []byte { return append([]byte(nil), k.key...) }

func (k Keypair) IsZero() bool { return len(k.key) == 0 }

// VerifySignature checks sig over msg for the given address.
func VerifySignature(pk PublicKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}

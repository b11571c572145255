package signin

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrInvalidProof is returned when a proof does not verify against its challenge.
var ErrInvalidProof = errors.New("invalid proof")

// Account identifies the signing wallet.
type Account struct {
	Address   string   `json:"address"`
	PublicKey []byte   `json:"publicKey"`
	Chains    []string `json:"chains"`
	Features  []string `json:"features"`
}

// Proof is the holder's signature over a challenge's canonical message.
type Proof struct {
	Account       Account `json:"account"`
	SignedMessage []byte  `json:"signedMessage"`
	Signature     []byte  `json:"signature"`
}

// Sign produces the holder-side proof for c. The address defaults to the key's base58
// form when the challenge leaves it empty.
func Sign(key ed25519.PrivateKey, c Challenge) (Proof, error) {
	if len(key) != ed25519.PrivateKeySize {
		return Proof{}, fmt.Errorf("sign challenge: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	pub := key.Public().(ed25519.PublicKey)
	if c.Address == "" {
		c.Address = base58.Encode(pub)
	}
	msg, err := c.Message()
	if err != nil {
		return Proof{}, fmt.Errorf("sign challenge: %w", err)
	}
	signed := []byte(msg)
	return Proof{
		Account: Account{
			Address:   c.Address,
			PublicKey: append([]byte(nil), pub...),
			Chains:    []string{},
			Features:  []string{},
		},
		SignedMessage: signed,
		Signature:     ed25519.Sign(key, signed),
	}, nil
}

// DeriveMessage recomputes the canonical bytes for c as bound to p's account.
func DeriveMessage(c Challenge, p Proof) ([]byte, error) {
	if c.Address == "" {
		c.Address = p.Account.Address
	}
	if c.Address == "" {
		return nil, ErrMissingAddress
	}
	msg, err := c.Message()
	if err != nil {
		return nil, err
	}
	return []byte(msg), nil
}

// Verify reports whether p is a valid signature by the challenge's address over the
// canonical form of c. It never panics and fails closed.
func Verify(c Challenge, p Proof) bool {
	return Check(c, p) == nil
}

// Check is Verify with a reason. Message bytes are compared before any signature work.
func Check(c Challenge, p Proof) error {
	derived, err := DeriveMessage(c, p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if !bytes.Equal(derived, p.SignedMessage) {
		return fmt.Errorf("%w: signed message does not match challenge", ErrInvalidProof)
	}
	if c.Address != "" && c.Address != p.Account.Address {
		return fmt.Errorf("%w: account does not match challenge address", ErrInvalidProof)
	}
	if len(p.Account.PublicKey) != ed25519.PublicKeySize || len(p.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed key or signature", ErrInvalidProof)
	}
	if base58.Encode(p.Account.PublicKey) != p.Account.Address {
		return fmt.Errorf("%w: public key does not match address", ErrInvalidProof)
	}
	if !ed25519.Verify(ed25519.PublicKey(p.Account.PublicKey), p.SignedMessage, p.Signature) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidProof)
	}
	return nil
}

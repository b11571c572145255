package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

var (
	ErrInvalidSeeds = errors.New("invalid seeds")
	// ErrNoViableBump is returned when every bump seed lands on the curve.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

	errOnCurve = fmt.Errorf("%w: address on curve", ErrInvalidSeeds)
)

// IsOnCurveError reports whether err came from a derived address landing on the curve.
func IsOnCurveError(err error) bool { return errors.Is(err, errOnCurve) }

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds under program; the result must be off-curve so no
// private key can sign for it.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	if len(seeds) > maxSeeds {
		return PublicKey{}, fmt.Errorf("%w: too many seeds", ErrInvalidSeeds)
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > maxSeedLength {
			return PublicKey{}, fmt.Errorf("%w: seed longer than %d bytes", ErrInvalidSeeds, maxSeedLength)
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var pk PublicKey
	copy(pk[:], h.Sum(nil))
	if IsOnCurve(pk[:]) {
		return PublicKey{}, errOnCurve
	}
	return pk, nil
}

// FindProgramAddress searches bumps 255..0 for the first off-curve address.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return PublicKey{}, 0, fmt.Errorf("%w: too many seeds", ErrInvalidSeeds)
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		pk, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return pk, uint8(bump), nil
		}
		if !IsOnCurveError(err) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// FindAssociatedTokenAddress derives the canonical token account for owner and mint.
func FindAssociatedTokenAddress(owner, mint, tokenProgram PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress([][]byte{owner[:], tokenProgram[:], mint[:]}, AssociatedTokenProgramID)
	if err != nil {
		return PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

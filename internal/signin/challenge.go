package signin

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultStatement tells the holder that signing has no on-chain side effects.
	DefaultStatement = "Clicking Sign or Approve only means you have proved this wallet is owned by you. This request will not trigger any blockchain transaction or cost any gas fee."

	// MessageVersion is the only challenge version issued.
	MessageVersion = "1"

	// TimeLayout matches the ISO-8601 form wallets emit (millisecond precision, UTC).
	TimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	// ErrMissingAddress indicates a challenge with no address to bind the proof to.
	ErrMissingAddress = errors.New("missing address")
	// ErrMissingDomain indicates a challenge without the verifying domain.
	ErrMissingDomain = errors.New("missing domain")
	// ErrChallengeExpired is returned once expirationTime has passed.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeNotYetValid is returned before notBefore.
	ErrChallengeNotYetValid = errors.New("challenge not yet valid")
	// ErrDomainNotAllowed is returned for a challenge naming a domain outside the
	// accepted list.
	ErrDomainNotAllowed = errors.New("domain not allowed")
)

// Challenge is the sign-in input a holder signs. Empty string fields and an empty
// resource list are treated as absent when canonicalising.
type Challenge struct {
	Address        string   `json:"address,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	Statement      string   `json:"statement,omitempty"`
	URI            string   `json:"uri,omitempty"`
	Version        string   `json:"version,omitempty"`
	ChainID        string   `json:"chainId,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
	IssuedAt       string   `json:"issuedAt,omitempty"`
	ExpirationTime string   `json:"expirationTime,omitempty"`
	NotBefore      string   `json:"notBefore,omitempty"`
	RequestID      string   `json:"requestId,omitempty"`
	Resources      []string `json:"resources,omitempty"`
}

// NewChallenge builds the challenge a holder is asked to sign for domain.
func NewChallenge(address, domain, nonce, chainID string, issuedAt time.Time) Challenge {
	return Challenge{
		Address:   address,
		Domain:    domain,
		Statement: DefaultStatement,
		Version:   MessageVersion,
		ChainID:   chainID,
		Nonce:     nonce,
		IssuedAt:  FormatTime(issuedAt),
	}
}

// FormatTime renders t the way challenges carry timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Message returns the canonical text that is signed.
func (c Challenge) Message() (string, error) {
	if c.Domain == "" {
		return "", ErrMissingDomain
	}
	if c.Address == "" {
		return "", ErrMissingAddress
	}

	var b strings.Builder
	b.WriteString(c.Domain)
	b.WriteString(" wants you to sign in with your Solana account:\n")
	b.WriteString(c.Address)

	if c.Statement != "" {
		b.WriteString("\n\n")
		b.WriteString(c.Statement)
	}

	fields := make([]string, 0, 9)
	appendField := func(label, value string) {
		if value != "" {
			fields = append(fields, label+": "+value)
		}
	}
	appendField("URI", c.URI)
	appendField("Version", c.Version)
	appendField("Chain ID", c.ChainID)
	appendField("Nonce", c.Nonce)
	appendField("Issued At", c.IssuedAt)
	appendField("Expiration Time", c.ExpirationTime)
	appendField("Not Before", c.NotBefore)
	appendField("Request ID", c.RequestID)
	if len(c.Resources) > 0 {
		var res strings.Builder
		res.WriteString("Resources:")
		for _, r := range c.Resources {
			res.WriteString("\n- ")
			res.WriteString(r)
		}
		fields = append(fields, res.String())
	}

	if len(fields) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(fields, "\n"))
	}
	return b.String(), nil
}

// CheckWindow enforces expirationTime and notBefore when they are set.
func (c Challenge) CheckWindow(now time.Time) error {
	if c.ExpirationTime != "" {
		exp, err := time.Parse(time.RFC3339Nano, c.ExpirationTime)
		if err != nil {
			return fmt.Errorf("parse expiration time: %w", err)
		}
		if !now.Before(exp) {
			return ErrChallengeExpired
		}
	}
	if c.NotBefore != "" {
		nbf, err := time.Parse(time.RFC3339Nano, c.NotBefore)
		if err != nil {
			return fmt.Errorf("parse not before: %w", err)
		}
		if now.Before(nbf) {
			return ErrChallengeNotYetValid
		}
	}
	return nil
}

// CheckDomain accepts any domain when allowed is empty.
func (c Challenge) CheckDomain(allowed []string) error {
	if len(allowed) > 0 && !slices.Contains(allowed, c.Domain) {
		return fmt.Errorf("%w: %s", ErrDomainNotAllowed, c.Domain)
	}
	return nil
}

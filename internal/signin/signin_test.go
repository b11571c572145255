package signin

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T, seed byte) (ed25519.PrivateKey, string) {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	key := ed25519.NewKeyFromSeed(s)
	return key, base58.Encode(key.Public().(ed25519.PublicKey))
}

func TestMessageLayout(t *testing.T) {
	c := Challenge{
		Domain:    "example.com",
		Address:   "Addr1",
		Statement: "hello",
		URI:       "https://example.com",
		Version:   "1",
		Nonce:     "N1",
		Resources: []string{"a", "b"},
	}
	msg, err := c.Message()
	require.NoError(t, err)
	want := "example.com wants you to sign in with your Solana account:\nAddr1\n\nhello\n\n" +
		"URI: https://example.com\nVersion: 1\nNonce: N1\nResources:\n- a\n- b"
	require.Equal(t, want, msg)
}

func TestMessageOmitsEmptyFields(t *testing.T) {
	msg, err := Challenge{Domain: "example.com", Address: "Addr1"}.Message()
	require.NoError(t, err)
	require.Equal(t, "example.com wants you to sign in with your Solana account:\nAddr1", msg)

	withEmpty, err := Challenge{Domain: "example.com", Address: "Addr1", Statement: "", Resources: []string{}}.Message()
	require.NoError(t, err)
	require.Equal(t, msg, withEmpty)
}

func TestMessageRequiresDomainAndAddress(t *testing.T) {
	_, err := Challenge{Address: "a"}.Message()
	require.ErrorIs(t, err, ErrMissingDomain)
	_, err = Challenge{Domain: "d"}.Message()
	require.ErrorIs(t, err, ErrMissingAddress)
}

func TestNewChallengeDefaults(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 30, 0, 5_000_000, time.FixedZone("x", 3600))
	c := NewChallenge("Addr", "example.com", "N1", "devnet", issued)
	require.Equal(t, DefaultStatement, c.Statement)
	require.Equal(t, "1", c.Version)
	require.Equal(t, "2024-03-01T11:30:00.005Z", c.IssuedAt)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, addr := newKey(t, 7)
	c := NewChallenge(addr, "example.com", "N1", "", time.Unix(1700000000, 0))
	p, err := Sign(key, c)
	require.NoError(t, err)
	require.True(t, Verify(c, p))
	require.Empty(t, p.Account.Chains)
}

func TestVerifyRejectsFieldMutation(t *testing.T) {
	key, addr := newKey(t, 9)
	c := NewChallenge(addr, "example.com", "N1", "", time.Unix(1700000000, 0))
	c.URI = "https://example.com"
	c.RequestID = "r1"
	c.Resources = []string{"x"}
	p, err := Sign(key, c)
	require.NoError(t, err)

	mutations := map[string]func(*Challenge){
		"domain":    func(c *Challenge) { c.Domain = "evil.com" },
		"statement": func(c *Challenge) { c.Statement = "other" },
		"uri":       func(c *Challenge) { c.URI = "https://evil.com" },
		"version":   func(c *Challenge) { c.Version = "2" },
		"chain":     func(c *Challenge) { c.ChainID = "mainnet" },
		"nonce":     func(c *Challenge) { c.Nonce = "N2" },
		"issued":    func(c *Challenge) { c.IssuedAt = "2020-01-01T00:00:00.000Z" },
		"expires":   func(c *Challenge) { c.ExpirationTime = "2030-01-01T00:00:00.000Z" },
		"notBefore": func(c *Challenge) { c.NotBefore = "2020-01-01T00:00:00.000Z" },
		"request":   func(c *Challenge) { c.RequestID = "r2" },
		"resources": func(c *Challenge) { c.Resources = []string{"y"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			m := c
			m.Resources = append([]string(nil), c.Resources...)
			mutate(&m)
			require.False(t, Verify(m, p))
		})
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	key, addr := newKey(t, 3)
	c := NewChallenge(addr, "example.com", "N1", "", time.Unix(1700000000, 0))
	p, err := Sign(key, c)
	require.NoError(t, err)

	sig := append([]byte(nil), p.Signature...)
	sig[0] ^= 0xff
	bad := p
	bad.Signature = sig
	require.False(t, Verify(c, bad))

	short := p
	short.SignedMessage = p.SignedMessage[:len(p.SignedMessage)-1]
	require.False(t, Verify(c, short))

	require.False(t, Verify(c, Proof{}))
}

func TestVerifyBindsAddressToKey(t *testing.T) {
	_, victim := newKey(t, 1)
	attackerKey, attackerAddr := newKey(t, 2)

	// attacker signs a challenge naming the victim's address with their own key
	c := NewChallenge(victim, "example.com", "N1", "", time.Unix(1700000000, 0))
	p, err := Sign(attackerKey, c)
	require.NoError(t, err)
	err = Check(c, p)
	require.ErrorIs(t, err, ErrInvalidProof)

	// and claims the victim's address in the account
	p.Account.Address = victim
	require.False(t, Verify(c, p))

	// an honest proof by the attacker for a different challenge address also fails
	own := NewChallenge(attackerAddr, "example.com", "N1", "", time.Unix(1700000000, 0))
	ownProof, err := Sign(attackerKey, own)
	require.NoError(t, err)
	require.False(t, Verify(c, ownProof))
}

func TestVerifyUsesAccountAddressWhenChallengeOmitsIt(t *testing.T) {
	key, _ := newKey(t, 4)
	c := Challenge{Domain: "example.com", Nonce: "N1"}
	p, err := Sign(key, c)
	require.NoError(t, err)
	require.True(t, Verify(c, p))

	p.Account.Address = ""
	require.False(t, Verify(c, p))
}

func TestCheckWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := Challenge{
		ExpirationTime: FormatTime(now.Add(time.Minute)),
		NotBefore:      FormatTime(now.Add(-time.Minute)),
	}
	require.NoError(t, c.CheckWindow(now))
	require.True(t, errors.Is(c.CheckWindow(now.Add(2*time.Minute)), ErrChallengeExpired))
	require.True(t, errors.Is(c.CheckWindow(now.Add(-2*time.Minute)), ErrChallengeNotYetValid))

	require.Error(t, Challenge{ExpirationTime: "yesterday"}.CheckWindow(now))
}

func TestCheckDomain(t *testing.T) {
	c := Challenge{Domain: "shop.example.com"}
	require.NoError(t, c.CheckDomain(nil))
	require.NoError(t, c.CheckDomain([]string{"example.com", "shop.example.com"}))
	require.ErrorIs(t, c.CheckDomain([]string{"example.com"}), ErrDomainNotAllowed)
}

package payload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loyalpass/loyalpass/internal/entropy"
	"github.com/loyalpass/loyalpass/internal/signin"
)

// ErrMalformedPayload is returned for frames that cannot be decoded. Causes never
// include decoded bytes.
var ErrMalformedPayload = errors.New("malformed payload")

const separator = ":"

// Compressed is the JSON body of a QR frame. Byte fields are standard padded base64.
type Compressed struct {
	Input         signin.Challenge `json:"input"`
	Signature     []byte           `json:"signature"`
	SignedMessage []byte           `json:"signedMessage"`
	PublicKey     []byte           `json:"publicKey"`
}

// Frame is a decoded QR payload.
type Frame struct {
	Challenge   signin.Challenge
	Proof       signin.Proof
	ReplayNonce string
}

// Binding is the digest of the frame's signature. Frames issued for the same signed
// proof share it.
func (f Frame) Binding() string { return Binding(f.Proof) }

// Binding returns the hex SHA-256 of the proof signature.
func Binding(p signin.Proof) string {
	sum := sha256.Sum256(p.Signature)
	return hex.EncodeToString(sum[:])
}

// Compress flattens a challenge and proof into the wire body.
func Compress(c signin.Challenge, p signin.Proof) Compressed {
	if c.Address == "" {
		c.Address = p.Account.Address
	}
	return Compressed{
		Input:         c,
		Signature:     p.Signature,
		SignedMessage: p.SignedMessage,
		PublicKey:     p.Account.PublicKey,
	}
}

// Expand rebuilds the challenge and proof. The account address is the challenge address.
func (c Compressed) Expand() (signin.Challenge, signin.Proof, error) {
	if c.Input.Address == "" {
		return signin.Challenge{}, signin.Proof{}, errors.Join(ErrMalformedPayload, signin.ErrMissingAddress)
	}
	return c.Input, signin.Proof{
		Account: signin.Account{
			Address:   c.Input.Address,
			PublicKey: c.PublicKey,
			Chains:    []string{},
			Features:  []string{},
		},
		SignedMessage: c.SignedMessage,
		Signature:     c.Signature,
	}, nil
}

// Encode renders `<json>:<replayNonce>`.
func Encode(c signin.Challenge, p signin.Proof, replayNonce string) (string, error) {
	if replayNonce == "" || strings.Contains(replayNonce, separator) {
		return "", fmt.Errorf("encode payload: replay nonce must be non-empty and colon free")
	}
	if c.Address == "" && p.Account.Address == "" {
		return "", fmt.Errorf("encode payload: %w", signin.ErrMissingAddress)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Compress(c, p)); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	body := bytes.TrimRight(buf.Bytes(), "\n")
	return string(body) + separator + replayNonce, nil
}

// SplitFrame separates body and replay nonce at the last colon.
func SplitFrame(frame string) (string, string, error) {
	i := strings.LastIndex(frame, separator)
	if i < 0 {
		return "", "", fmt.Errorf("%w: missing replay nonce separator", ErrMalformedPayload)
	}
	body, nonce := frame[:i], frame[i+1:]
	if body == "" || nonce == "" {
		return "", "", fmt.Errorf("%w: empty body or replay nonce", ErrMalformedPayload)
	}
	return body, nonce, nil
}

// Decode parses a QR frame.
func Decode(frame string) (Frame, error) {
	body, nonce, err := SplitFrame(frame)
	if err != nil {
		return Frame{}, err
	}
	var compressed Compressed
	if err := json.Unmarshal([]byte(body), &compressed); err != nil {
		return Frame{}, fmt.Errorf("%w: %s", ErrMalformedPayload, describeJSONError(err))
	}
	c, p, err := compressed.Expand()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Challenge: c, Proof: p, ReplayNonce: nonce}, nil
}

// describeJSONError keeps the error category without echoing payload content.
func describeJSONError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("invalid json at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	default:
		return "invalid body encoding"
	}
}

// Registry records issued replay nonces so redemption can refuse nonces it never
// handed out.
type Registry interface {
	Issue(ctx context.Context, nonce, binding string) error
}

// Codec issues frames with fresh replay nonces.
type Codec struct {
	entropy  *entropy.Source
	registry Registry
}

// NewCodec uses src for replay nonces; nil means the default source. A nil registry
// issues frames no redemption will accept, which only suits inspection tooling.
func NewCodec(src *entropy.Source, registry Registry) *Codec {
	if src == nil {
		src = entropy.Default
	}
	return &Codec{entropy: src, registry: registry}
}

// Issue encodes c and p under a new 96-bit replay nonce and registers the nonce
// against the proof.
func (c *Codec) Issue(ctx context.Context, ch signin.Challenge, p signin.Proof) (string, string, error) {
	nonce, err := c.entropy.Nonce()
	if err != nil {
		return "", "", err
	}
	frame, err := Encode(ch, p, nonce)
	if err != nil {
		return "", "", err
	}
	if c.registry != nil {
		if err := c.registry.Issue(ctx, nonce, Binding(p)); err != nil {
			return "", "", fmt.Errorf("register replay nonce: %w", err)
		}
	}
	return frame, nonce, nil
}

package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	// Alphanumeric is the default charset for nonces.
	Alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// NonceBits is the entropy target for session and replay nonces.
	NonceBits = 96

	// quota bounds a single read from the underlying generator.
	quota = 65536
)

var (
	// ErrEntropyUnavailable is returned when the secure random generator cannot be read.
	ErrEntropyUnavailable = errors.New("entropy unavailable")

	// ErrInvalidCharset is returned for charsets shorter than 2 or longer than 256 symbols.
	ErrInvalidCharset = errors.New("invalid charset")
)

// Source draws unbiased random bytes and strings from a cryptographic reader.
type Source struct {
	reader io.Reader
}

// New wraps the provided reader. A nil reader means crypto/rand.
func New(reader io.Reader) *Source {
	if reader == nil {
		reader = rand.Reader
	}
	return &Source{reader: reader}
}

// Default reads from crypto/rand.
var Default = New(nil)

// RandomBytes returns n random bytes.
func (s *Source) RandomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("random bytes: negative length %d", n)
	}
	out := make([]byte, n)
	for i := 0; i < n; i += quota {
		end := min(i+quota, n)
		if _, err := io.ReadFull(s.reader, out[i:end]); err != nil {
			clear(out)
			return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
		}
	}
	return out, nil
}

// RandomString returns length symbols drawn uniformly from charset. Bytes that would
// introduce modulo bias are rejected rather than folded.
func (s *Source) RandomString(length int, charset string) (string, error) {
	symbols := []rune(charset)
	size := len(symbols)
	if size < 2 || size > 256 {
		return "", fmt.Errorf("%w: %d symbols", ErrInvalidCharset, size)
	}
	if length < 0 {
		return "", fmt.Errorf("random string: negative length %d", length)
	}

	maxByte := 256 - (256 % size)
	var out strings.Builder
	out.Grow(length)

	for length > 0 {
		buf, err := s.RandomBytes(int(math.Ceil(float64(length) * 256 / float64(maxByte))))
		if err != nil {
			return "", err
		}
		for i := 0; i < len(buf) && length > 0; i++ {
			b := int(buf[i])
			if b < maxByte {
				out.WriteRune(symbols[b%size])
				length--
			}
		}
		clear(buf)
	}
	return out.String(), nil
}

// RandomStringForEntropy returns the shortest string over charset carrying at least bits
// of entropy.
func (s *Source) RandomStringForEntropy(bits int, charset string) (string, error) {
	size := len([]rune(charset))
	if size < 2 || size > 256 {
		return "", fmt.Errorf("%w: %d symbols", ErrInvalidCharset, size)
	}
	if bits <= 0 {
		return "", nil
	}
	return s.RandomString(LengthForEntropy(bits, size), charset)
}

// Nonce returns an alphanumeric nonce with NonceBits of entropy.
func (s *Source) Nonce() (string, error) {
	return s.RandomStringForEntropy(NonceBits, Alphanumeric)
}

// LengthForEntropy is ceil(bits / log2(charsetSize)).
func LengthForEntropy(bits, charsetSize int) int {
	return int(math.Ceil(float64(bits) / math.Log2(float64(charsetSize))))
}

// RandomBytes reads from Default.
func RandomBytes(n int) ([]byte, error) { return Default.RandomBytes(n) }

// RandomString reads from Default.
func RandomString(length int, charset string) (string, error) {
	return Default.RandomString(length, charset)
}

// RandomStringForEntropy reads from Default.
func RandomStringForEntropy(bits int, charset string) (string, error) {
	return Default.RandomStringForEntropy(bits, charset)
}

// Nonce reads from Default.
func Nonce() (string, error) { return Default.Nonce() }

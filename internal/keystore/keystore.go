package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/loyalpass/loyalpass/internal/chain"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "LOYALKEY1\n"

	kdfName     = "argon2id"
	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
	maxMemoryKB = 1024 * 1024
	maxKDFTime  = 16
)

var (
	// ErrPassphraseRequired is returned when an encrypted key file is loaded without one.
	ErrPassphraseRequired = errors.New("keystore passphrase required")
	// ErrAuthFailed is returned for a wrong passphrase or tampered file.
	ErrAuthFailed = errors.New("keystore authentication failed")
	// ErrInvalid is returned for files in neither supported format.
	ErrInvalid = errors.New("keystore file is invalid")
)

type envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	PublicKey   string `json:"public_key"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Load reads a keypair stored either as a JSON byte array (the wallet CLI format) or
// as a passphrase-encrypted envelope.
func Load(path, passphrase string) (chain.Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chain.Keypair{}, fmt.Errorf("read keypair: %w", err)
	}
	return Decode(data, passphrase)
}

// Decode parses key file contents.
func Decode(data []byte, passphrase string) (chain.Keypair, error) {
	if bytes.HasPrefix(data, []byte(filePrefix)) {
		if passphrase == "" {
			return chain.Keypair{}, ErrPassphraseRequired
		}
		return decrypt(data[len(filePrefix):], passphrase)
	}

	var ints []int
	if err := json.Unmarshal(bytes.TrimSpace(data), &ints); err != nil {
		return chain.Keypair{}, ErrInvalid
	}
	raw := make([]byte, len(ints))
	defer clear(raw)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return chain.Keypair{}, ErrInvalid
		}
		raw[i] = byte(v)
	}
	kp, err := chain.KeypairFromBytes(raw)
	if err != nil {
		return chain.Keypair{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return kp, nil
}

// Encode renders kp as an encrypted envelope, or as a plain JSON byte array when
// passphrase is empty.
func Encode(kp chain.Keypair, passphrase string) ([]byte, error) {
	secret := kp.Bytes()
	defer clear(secret)

	if passphrase == "" {
		ints := make([]int, len(secret))
		for i, b := range secret {
			ints[i] = int(b)
		}
		return json.Marshal(ints)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		PublicKey:   kp.PublicKey().String(),
		Salt:        salt,
		Nonce:       nonce,
	}
	env.Ciphertext = aead.Seal(nil, nonce, secret, []byte(env.PublicKey))

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

// Save writes kp to path with owner-only permissions, replacing any existing file.
func Save(path string, kp chain.Keypair, passphrase string) error {
	data, err := Encode(kp, passphrase)
	if err != nil {
		return fmt.Errorf("encode keypair: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and renames it
// into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func decrypt(data []byte, passphrase string) (chain.Keypair, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return chain.Keypair{}, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName ||
		env.KDFTime == 0 || env.KDFTime > maxKDFTime ||
		env.KDFMemoryKB == 0 || env.KDFMemoryKB > maxMemoryKB || env.KDFThreads == 0 ||
		len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return chain.Keypair{}, ErrInvalid
	}
	key := argon2.IDKey([]byte(passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return chain.Keypair{}, err
	}
	secret, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.PublicKey))
	if err != nil {
		return chain.Keypair{}, ErrAuthFailed
	}
	defer clear(secret)

	kp, err := chain.KeypairFromBytes(secret)
	if err != nil {
		return chain.Keypair{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if kp.PublicKey().String() != env.PublicKey {
		return chain.Keypair{}, ErrInvalid
	}
	return kp, nil
}

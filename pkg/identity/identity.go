package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.ScalarSize

// KeyPair is the X25519 identity of this device. The public half is sent with
// every offer and answer.
type KeyPair struct {
	private [KeySize]byte
	public  [KeySize]byte
}

func Generate() (*KeyPair, error) {
	var priv [KeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to read random key: %w", err)
	}
	return FromPrivate(priv[:])
}

func FromPrivate(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("identity key must be %d bytes, got %d", KeySize, len(private))
	}
	pub, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	kp := &KeyPair{}
	copy(kp.private[:], private)
	copy(kp.public[:], pub)
	return kp, nil
}

// LoadOrCreate reads a base64 private key from path, generating and writing a
// new one when the file does not exist. An empty path yields an ephemeral key.
func LoadOrCreate(path string) (*KeyPair, error) {
	if path == "" {
		return Generate()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode identity key %s: %w", path, err)
		}
		return FromPrivate(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read identity key %s: %w", path, err)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(kp.private[:]) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity key %s: %w", path, err)
	}
	return kp, nil
}

func (k *KeyPair) PublicKey() []byte {
	return append([]byte(nil), k.public[:]...)
}

// Fingerprint is a short printable id for logs.
func Fingerprint(public []byte) string {
	sum := sha256.Sum256(public)
	return hex.EncodeToString(sum[:8])
}

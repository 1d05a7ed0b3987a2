package tokenstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

var ErrSealedValue = errors.New("sealed value is invalid or the passphrase is wrong")

// Sealer encrypts short secrets with a passphrase-derived key. Output is
// base64(salt || nonce || secretbox).
type Sealer struct {
	passphrase []byte
}

func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	return &Sealer{passphrase: []byte(passphrase)}
}

func (s *Sealer) key(salt []byte) *[keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, 1, 64*1024, 4, keySize))
	return &key
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], buf[saltSize:])

	out := secretbox.Seal(buf, []byte(plaintext), &nonce, s.key(buf[:saltSize]))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", ErrSealedValue
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, s.key(raw[:saltSize]))
	if !ok {
		return "", ErrSealedValue
	}
	return string(plain), nil
}

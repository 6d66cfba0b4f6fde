// Package roomcrypt decrypts message content that the remote feed marks with
// an encryptionType.
package roomcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Scheme is the numeric encryptionType carried by remote message documents.
type Scheme int

// SchemeRoomKey is AES-256-GCM content keyed per room from a shared secret.
const SchemeRoomKey Scheme = 1

// ErrUnsupportedScheme is returned for an encryptionType with no decrypter.
var ErrUnsupportedScheme = errors.New("roomcrypt: unsupported encryption scheme")

// Decrypter turns encrypted message content back into plaintext.
type Decrypter interface {
	Decrypt(roomID string, scheme Scheme, content string) (string, error)
}

// RoomKey derives one AES-256 key per room with HKDF-SHA256.
type RoomKey struct {
	secret []byte
}

// NewRoomKey returns a RoomKey for secret. An empty secret is rejected.
func NewRoomKey(secret string) (*RoomKey, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("roomcrypt: shared secret is empty")
	}
	return &RoomKey{secret: []byte(secret)}, nil
}

func (k *RoomKey) gcm(roomID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.secret, nil, []byte("vczap room "+roomID)), key); err != nil {
		return nil, fmt.Errorf("derive room key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext for roomID as base64(nonce || ciphertext).
func (k *RoomKey) Encrypt(roomID, plaintext string) (string, error) {
	gcm, err := k.gcm(roomID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(roomID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens content produced by Encrypt for the same room.
func (k *RoomKey) Decrypt(roomID string, scheme Scheme, content string) (string, error) {
	if scheme != SchemeRoomKey {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedScheme, scheme)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	gcm, err := k.gcm(roomID)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, []byte(roomID))
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}

// None rejects every scheme, so encrypted content is shown raw.
type None struct{}

// Decrypt implements Decrypter.
func (None) Decrypt(_ string, scheme Scheme, _ string) (string, error) {
	return "", fmt.Errorf("%w: %d", ErrUnsupportedScheme, scheme)
}

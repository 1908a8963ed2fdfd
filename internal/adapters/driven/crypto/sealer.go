package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// sealVersion is the version byte of the sealed blob format.
	sealVersion = 0x01

	// nonceSize is the AES-GCM nonce size
	nonceSize = 12

	// KeySize is the required key size for AES-256
	KeySize = 32

	hkdfInfo = "installations token sealing v1"
)

var (
	// ErrInvalidKeySize is returned when the key is not 32 bytes.
	ErrInvalidKeySize = errors.New("sealing key must be 32 bytes")

	// ErrInvalidBlobSize is returned when the sealed blob is too small.
	ErrInvalidBlobSize = errors.New("sealed blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported sealed blob version")

	// ErrOpenFailed is returned when a blob cannot be opened (wrong key, wrong entry or corrupted data).
	ErrOpenFailed = errors.New("failed to open sealed blob")
)

// TokenSecrets are the parts of an installation entry that grant access to the backend.
type TokenSecrets struct {
	AuthToken    string `json:"auth_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsZero reports whether there is nothing to seal.
func (s TokenSecrets) IsZero() bool {
	return s.AuthToken == "" && s.RefreshToken == ""
}

// Sealer encrypts token secrets with AES-256-GCM.
// Blobs are bound to the key they were sealed under (typically the app's persistence key),
// so a blob copied to another entry fails to open.
// Format: version(1) || nonce(12) || ciphertext(N)
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// NewSealerFromBase64 creates a sealer from a standard base64 encoded 32-byte key.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	return NewSealer(key)
}

// NewSealerFromPassphrase derives the key from a passphrase with HKDF-SHA256.
func NewSealerFromPassphrase(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("sealing passphrase is empty")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return NewSealer(key)
}

// Seal encrypts secrets, binding the blob to boundTo.
func (s *Sealer) Seal(secrets TokenSecrets, boundTo string) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nil, nonce, plaintext, []byte(boundTo))

	blob := make([]byte, 1+nonceSize+len(ciphertext))
	blob[0] = sealVersion
	copy(blob[1:1+nonceSize], nonce)
	copy(blob[1+nonceSize:], ciphertext)

	return blob, nil
}

// Open decrypts a blob sealed for boundTo.
func (s *Sealer) Open(blob []byte, boundTo string) (TokenSecrets, error) {
	var secrets TokenSecrets

	if len(blob) < 1+nonceSize+s.gcm.Overhead() {
		return secrets, ErrInvalidBlobSize
	}
	if blob[0] != sealVersion {
		return secrets, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	nonce := blob[1 : 1+nonceSize]
	plaintext, err := s.gcm.Open(nil, nonce, blob[1+nonceSize:], []byte(boundTo))
	if err != nil {
		return secrets, ErrOpenFailed
	}

	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return secrets, fmt.Errorf("unmarshal secrets: %w", err)
	}
	return secrets, nil
}

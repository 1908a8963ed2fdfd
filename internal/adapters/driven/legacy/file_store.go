package legacy

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure FileStore implements LegacyIDStore
var _ driven.LegacyIDStore = (*FileStore)(nil)

// FileStore reads the instance id left behind by the legacy instance-id scheme.
// The file is JSON with either the id itself or the public key it was derived from:
//
//	{"id": "dGVzdGlpZDE"}
//	{"public_key": "<base64 encoded key>"}
type FileStore struct {
	path string
}

type legacyFile struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// NewFileStore creates a store reading path. A missing file means there is no legacy id.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// ReadLegacyID returns the legacy id, or an empty string when there is none.
func (s *FileStore) ReadLegacyID(ctx context.Context) (string, error) {
	if s.path == "" {
		return "", nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read legacy id file: %w", err)
	}

	var f legacyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse legacy id file: %w", err)
	}

	if id := strings.TrimSpace(f.ID); id != "" {
		return id, nil
	}
	if f.PublicKey == "" {
		return "", nil
	}

	key, err := decodePublicKey(f.PublicKey)
	if err != nil {
		return "", fmt.Errorf("decode legacy public key: %w", err)
	}
	return IDFromPublicKey(key), nil
}

// IDFromPublicKey derives the 11 character legacy instance id of a public key:
// the first 8 bytes of its SHA-1 digest with the high nibble set to 0111, URL-safe base64.
func IDFromPublicKey(key []byte) string {
	digest := sha1.Sum(key)
	digest[0] = 0x70 | (digest[0] & 0x0f)
	return base64.RawURLEncoding.EncodeToString(digest[:8])
}

func decodePublicKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("not base64")
}

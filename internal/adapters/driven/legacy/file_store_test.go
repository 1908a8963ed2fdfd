package legacy

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/custodia-labs/installations/internal/core/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iid.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestReadLegacyID(t *testing.T) {
	key := []byte("legacy-public-key")
	derived := IDFromPublicKey(key)

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		want    string
		wantErr bool
	}{
		{"no path configured", func(t *testing.T) string { return "" }, "", false},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }, "", false},
		{"explicit id", func(t *testing.T) string { return writeFile(t, `{"id":" dGVzdGlpZDE "}`) }, "dGVzdGlpZDE", false},
		{"derived from public key", func(t *testing.T) string {
			return writeFile(t, `{"public_key":"`+base64.StdEncoding.EncodeToString(key)+`"}`)
		}, derived, false},
		{"empty document", func(t *testing.T) string { return writeFile(t, `{}`) }, "", false},
		{"malformed json", func(t *testing.T) string { return writeFile(t, `{id`) }, "", true},
		{"malformed key", func(t *testing.T) string { return writeFile(t, `{"public_key":"***"}`) }, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFileStore(tt.path(t)).ReadLegacyID(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadLegacyID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadLegacyID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIDFromPublicKey(t *testing.T) {
	id := IDFromPublicKey([]byte("some key"))

	if len(id) != domain.LegacyIDLength {
		t.Fatalf("expected %d characters, got %d (%q)", domain.LegacyIDLength, len(id), id)
	}
	if !domain.IsValidFID(id) {
		t.Errorf("derived id %q is not a valid FID", id)
	}
	if IDFromPublicKey([]byte("some key")) != id {
		t.Error("expected derivation to be deterministic")
	}
}

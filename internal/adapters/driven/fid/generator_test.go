package fid

import (
	"testing"

	"github.com/google/uuid"

	"github.com/custodia-labs/installations/internal/core/domain"
)

func TestCreateRandomFID_Format(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		fid := g.CreateRandomFID()
		if len(fid) != domain.FIDLength {
			t.Fatalf("expected length %d, got %d (%q)", domain.FIDLength, len(fid), fid)
		}
		if !domain.IsValidFID(fid) {
			t.Fatalf("generated FID %q is not valid", fid)
		}
		if seen[fid] {
			t.Fatalf("duplicate FID %q", fid)
		}
		seen[fid] = true
	}
}

func TestCreateRandomFID_Deterministic(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"all zero", "00000000-0000-0000-0000-000000000000", "cAAAAAAAAAAAAAAAAAAAAA"},
		{"all ones", "ffffffff-ffff-ffff-ffff-ffffffffffff", "f_____________________"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Generator{newUUID: func() uuid.UUID { return uuid.MustParse(tt.id) }}
			if got := g.CreateRandomFID(); got != tt.want {
				t.Errorf("CreateRandomFID() = %q, want %q", got, tt.want)
			}
		})
	}
}

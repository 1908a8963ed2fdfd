package fid

import (
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
)

// Ensure Generator implements FIDGenerator
var _ driven.FIDGenerator = (*Generator)(nil)

const (
	// fidPrefix is the 0111 nibble marking the high bits of the first byte.
	fidPrefix     byte = 0x70
	fidPrefixMask byte = 0x0f
)

// Generator creates random FIDs from version 4 UUIDs.
type Generator struct {
	newUUID func() uuid.UUID
}

// NewGenerator creates a FID generator backed by crypto/rand UUIDs.
func NewGenerator() *Generator {
	return &Generator{newUUID: uuid.New}
}

// CreateRandomFID returns a 22 character URL-safe identifier.
// The 16 UUID bytes are extended with a copy of the first byte, whose high nibble is then
// replaced by 0111, so the encoded FID always starts with c, d, e or f.
func (g *Generator) CreateRandomFID() string {
	id := g.newUUID()

	b := make([]byte, 17)
	copy(b, id[:])
	b[16] = b[0]
	b[0] = fidPrefix | (b[0] & fidPrefixMask)

	return base64.RawURLEncoding.EncodeToString(b)[:domain.FIDLength]
}

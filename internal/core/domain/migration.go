package domain

import "strings"

const (
	// FIDLength is the length of a generated installation id.
	FIDLength = 22

	// LegacyIDLength is the length of an instance id adopted from the legacy scheme.
	LegacyIDLength = 11

	base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// DeriveInitialEntry builds the first entry of an installation.
// A non-empty legacy id is adopted as the FID; otherwise generate supplies a fresh one.
// Either way the result is UNREGISTERED and still has to be registered with the backend.
func DeriveInitialEntry(legacyID string, generate func() string) InstallationEntry {
	fid := strings.TrimSpace(legacyID)
	if fid == "" {
		fid = generate()
	}
	return NotGeneratedEntry().WithUnregisteredFID(fid)
}

// IsValidFID reports whether fid has the shape of a generated or adopted identifier:
// URL-safe base64, 22 (generated) or 11 (legacy) characters, with the 0111 prefix nibble
// that makes the first character one of c, d, e, f.
func IsValidFID(fid string) bool {
	if len(fid) != FIDLength && len(fid) != LegacyIDLength {
		return false
	}
	if !strings.ContainsRune("cdef", rune(fid[0])) {
		return false
	}
	for _, r := range fid {
		if !strings.ContainsRune(base64URLAlphabet, r) {
			return false
		}
	}
	return true
}

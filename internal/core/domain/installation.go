package domain

// RegistrationStatus is the lifecycle state of the persisted installation entry.
type RegistrationStatus string

const (
	// StatusNotGenerated means no FID exists yet (or it was deleted).
	StatusNotGenerated RegistrationStatus = "NOT_GENERATED"

	// StatusUnregistered means a FID was generated locally but the backend has not acknowledged it.
	StatusUnregistered RegistrationStatus = "UNREGISTERED"

	// StatusPending is reserved for an in-flight registration. It is never persisted;
	// in-flight work is tracked in memory and rebuilt from the entry after a restart.
	StatusPending RegistrationStatus = "PENDING"

	// StatusRegistered means the backend acknowledged the FID and issued tokens.
	StatusRegistered RegistrationStatus = "REGISTERED"

	// StatusRegisterError means the backend rejected the registration.
	// No further automatic registration is attempted.
	StatusRegisterError RegistrationStatus = "REGISTER_ERROR"
)

// IsValid reports whether s is a known status.
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case StatusNotGenerated, StatusUnregistered, StatusPending, StatusRegistered, StatusRegisterError:
		return true
	}
	return false
}

// InstallationEntry is the single persisted record describing this app instance.
// It is a value type; the With* helpers return modified copies.
type InstallationEntry struct {
	FID                    string             `json:"fid,omitempty"`
	Status                 RegistrationStatus `json:"status"`
	AuthToken              string             `json:"auth_token,omitempty"`
	RefreshToken           string             `json:"refresh_token,omitempty"`
	TokenCreationEpochSecs int64              `json:"token_creation_epoch_secs,omitempty"`
	ExpiresInSecs          int64              `json:"expires_in_secs,omitempty"`

	// FisError holds the backend's message when registration was rejected.
	FisError string `json:"fis_error,omitempty"`
}

// NotGeneratedEntry is the entry returned by stores that hold nothing.
func NotGeneratedEntry() InstallationEntry {
	return InstallationEntry{Status: StatusNotGenerated}
}

// Normalize maps the zero value onto NOT_GENERATED so that absent and empty entries compare equal.
func (e InstallationEntry) Normalize() InstallationEntry {
	if e.Status == "" {
		e.Status = StatusNotGenerated
	}
	return e
}

func (e InstallationEntry) IsNotGenerated() bool {
	return e.Status == StatusNotGenerated || e.Status == ""
}

func (e InstallationEntry) IsUnregistered() bool {
	return e.Status == StatusUnregistered
}

func (e InstallationEntry) IsRegistered() bool {
	return e.Status == StatusRegistered
}

func (e InstallationEntry) IsErrored() bool {
	return e.Status == StatusRegisterError
}

// HasFID reports whether the entry carries an identifier that can be returned to callers.
func (e InstallationEntry) HasFID() bool {
	return !e.IsNotGenerated() && e.FID != ""
}

// TokenExpiresAtEpochSecs returns the first second at which the auth token is no longer valid.
func (e InstallationEntry) TokenExpiresAtEpochSecs() int64 {
	return e.TokenCreationEpochSecs + e.ExpiresInSecs
}

// IsAuthTokenExpired reports whether the auth token must be refreshed at nowEpochSecs.
// bufferSecs moves the deadline earlier; zero gives the exact validity window
// [creation, creation+expiresIn).
func (e InstallationEntry) IsAuthTokenExpired(nowEpochSecs, bufferSecs int64) bool {
	if e.AuthToken == "" {
		return true
	}
	return nowEpochSecs+bufferSecs >= e.TokenExpiresAtEpochSecs()
}

// Validate checks the status invariants.
func (e InstallationEntry) Validate() error {
	switch e.Normalize().Status {
	case StatusNotGenerated:
		if e.FID != "" {
			return ErrInvalidEntry
		}
	case StatusUnregistered, StatusRegisterError:
		if e.FID == "" {
			return ErrInvalidEntry
		}
	case StatusRegistered:
		if e.FID == "" || e.AuthToken == "" || e.RefreshToken == "" {
			return ErrInvalidEntry
		}
	default:
		return ErrInvalidEntry
	}
	return nil
}

// WithUnregisteredFID returns an entry holding a locally generated, unregistered FID.
func (e InstallationEntry) WithUnregisteredFID(fid string) InstallationEntry {
	return InstallationEntry{
		FID:    fid,
		Status: StatusUnregistered,
	}
}

// WithRegisteredFID returns an entry for a FID the backend acknowledged.
func (e InstallationEntry) WithRegisteredFID(fid, refreshToken string, creationEpochSecs int64, authToken string, expiresInSecs int64) InstallationEntry {
	return InstallationEntry{
		FID:                    fid,
		Status:                 StatusRegistered,
		AuthToken:              authToken,
		RefreshToken:           refreshToken,
		TokenCreationEpochSecs: creationEpochSecs,
		ExpiresInSecs:          expiresInSecs,
	}
}

// WithAuthToken replaces the auth token and its validity window, keeping everything else.
func (e InstallationEntry) WithAuthToken(authToken string, expiresInSecs, creationEpochSecs int64) InstallationEntry {
	e.AuthToken = authToken
	e.ExpiresInSecs = expiresInSecs
	e.TokenCreationEpochSecs = creationEpochSecs
	return e
}

// WithClearedAuthToken drops the auth token so the next read treats it as expired.
func (e InstallationEntry) WithClearedAuthToken() InstallationEntry {
	e.AuthToken = ""
	e.ExpiresInSecs = 0
	e.TokenCreationEpochSecs = 0
	return e
}

// WithFisError marks the registration as rejected by the backend.
func (e InstallationEntry) WithFisError(message string) InstallationEntry {
	return InstallationEntry{
		FID:      e.FID,
		Status:   StatusRegisterError,
		FisError: message,
	}
}

// WithNoGeneratedFID resets the entry.
func (e InstallationEntry) WithNoGeneratedFID() InstallationEntry {
	return NotGeneratedEntry()
}

// InstallationToken is the auth token handed to callers.
type InstallationToken struct {
	Token                  string `json:"token"`
	ExpiresInSecs          int64  `json:"expires_in_secs"`
	TokenCreationEpochSecs int64  `json:"token_creation_epoch_secs"`
}

// ExpiresAtEpochSecs returns the token's expiry as unix seconds.
func (t InstallationToken) ExpiresAtEpochSecs() int64 {
	return t.TokenCreationEpochSecs + t.ExpiresInSecs
}

// TokenFromEntry extracts the caller-visible token of a registered entry.
func TokenFromEntry(e InstallationEntry) InstallationToken {
	return InstallationToken{
		Token:                  e.AuthToken,
		ExpiresInSecs:          e.ExpiresInSecs,
		TokenCreationEpochSecs: e.TokenCreationEpochSecs,
	}
}

package domain

// ResponseCode classifies a structured answer from the registration backend.
type ResponseCode string

const (
	ResponseOK        ResponseCode = "OK"
	ResponseBadConfig ResponseCode = "BAD_CONFIG"
	ResponseAuthError ResponseCode = "AUTH_ERROR"
)

// InstallationResponse is the backend's answer to a create-installation request.
// FID is authoritative and may differ from the identifier that was sent.
type InstallationResponse struct {
	ResponseCode ResponseCode
	URIName      string
	FID          string
	RefreshToken string
	AuthToken    TokenResult
}

// TokenResult is the backend's answer to a generate-auth-token request.
type TokenResult struct {
	ResponseCode  ResponseCode
	Token         string
	ExpiresInSecs int64
}

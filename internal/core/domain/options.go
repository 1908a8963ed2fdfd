package domain

import (
	"fmt"
	"strings"
)

// DefaultAppName is the app name used when none is configured.
const DefaultAppName = "[DEFAULT]"

// Options identifies the app whose installation is managed.
type Options struct {
	APIKey    string `json:"api_key"`
	ProjectID string `json:"project_id"`
	AppID     string `json:"app_id"`
	AppName   string `json:"app_name,omitempty"`
}

// Validate checks that the options can be sent to the registration backend.
// API keys are 39 characters starting with "A"; app ids contain a ':' separator.
func (o Options) Validate() error {
	if o.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidInput)
	}
	if o.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if o.AppID == "" {
		return fmt.Errorf("%w: app id is required", ErrInvalidInput)
	}
	if !strings.Contains(o.AppID, ":") {
		return fmt.Errorf("%w: malformed app id %q", ErrInvalidInput, o.AppID)
	}
	if len(o.APIKey) != 39 || !strings.HasPrefix(o.APIKey, "A") {
		return fmt.Errorf("%w: malformed api key", ErrInvalidInput)
	}
	return nil
}

// Name returns the configured app name or DefaultAppName.
func (o Options) Name() string {
	if o.AppName == "" {
		return DefaultAppName
	}
	return o.AppName
}

// PersistenceKey identifies the single persisted entry of this app in shared stores.
func (o Options) PersistenceKey() string {
	return o.Name() + "+" + o.AppID
}

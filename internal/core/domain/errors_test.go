package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrInvalidEntry", ErrInvalidEntry, "invalid installation entry"},
		{"ErrNotRegistered", ErrNotRegistered, "installation is not registered"},
		{"ErrRegistrationRejected", ErrRegistrationRejected, "installation registration was rejected"},
		{"ErrUnregistered", ErrUnregistered, "installation could not be registered"},
		{"ErrClosed", ErrClosed, "installations service closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("get token: %w", NewError(StatusBadConfig, "", ErrRegistrationRejected))

	status, ok := StatusOf(err)
	if !ok {
		t.Fatal("expected a structured error in the chain")
	}
	if status != StatusBadConfig {
		t.Errorf("status = %s, want BAD_CONFIG", status)
	}
	if !errors.Is(err, ErrRegistrationRejected) {
		t.Error("expected the cause to stay reachable")
	}
	if IsTransport(err) {
		t.Error("structured error must not be reported as transport")
	}
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("delete: %w", NewTransportError("delete installation", io.ErrUnexpectedEOF))

	if !IsTransport(err) {
		t.Error("expected transport error in chain")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected the cause to stay reachable")
	}
	if _, ok := StatusOf(err); ok {
		t.Error("transport error must not carry a status")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{NewError(StatusBadConfig, "bad api key", nil), "installations: BAD_CONFIG: bad api key"},
		{NewError(StatusUnavailable, "", ErrNotRegistered), "installations: UNAVAILABLE: installation is not registered"},
		{NewError(StatusTooManyRequests, "", nil), "installations: TOO_MANY_REQUESTS"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

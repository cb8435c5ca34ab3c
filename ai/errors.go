package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	ErrAuth     ErrorKind = "auth"
	ErrQuota    ErrorKind = "quota"
	ErrNetwork  ErrorKind = "network"
	ErrSafety   ErrorKind = "safety"
	ErrUpstream ErrorKind = "upstream"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider ProviderKind
	Kind     ErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (%d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func safetyError(provider ProviderKind, reason string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrSafety, Message: reason}
}

func networkError(provider ProviderKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrNetwork, Message: err.Error(), Err: err}
}

func upstreamError(provider ProviderKind, msg string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrUpstream, Message: msg}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrQuota
	default:
		return ErrUpstream
	}
}

// statusError builds a ProviderError from a non-2xx response, reading a
// bounded snippet of the body for the message.
func statusError(provider ProviderKind, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{
		Provider: provider,
		Kind:     kindForStatus(resp.StatusCode),
		Status:   resp.StatusCode,
		Message:  msg,
	}
}

// ErrorFragment renders err as the single text fragment shown to the user.
func ErrorFragment(provider ProviderKind, err error) string {
	name := provider.DisplayName()

	var perr *ProviderError
	if !errors.As(err, &perr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Sprintf("⚠️ %s Error: the request timed out", name)
		}
		return fmt.Sprintf("⚠️ %s Error: %v", name, err)
	}

	switch perr.Kind {
	case ErrSafety:
		return fmt.Sprintf("⚠️ %s blocked the response (content safety).", name)
	case ErrAuth:
		return fmt.Sprintf("⚠️ %s Error: authentication failed (%d)", name, perr.Status)
	case ErrQuota:
		return fmt.Sprintf("⚠️ %s Error: quota exceeded, try again later", name)
	case ErrNetwork:
		return fmt.Sprintf("⚠️ %s Error: could not reach the provider: %s", name, perr.Message)
	default:
		return fmt.Sprintf("⚠️ %s Error: %s", name, perr.Message)
	}
}

// streamFailure keeps classified errors and treats anything else raised while
// reading a response body as a network failure.
func streamFailure(provider ProviderKind, err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return networkError(provider, err)
}

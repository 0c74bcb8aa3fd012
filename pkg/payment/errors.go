package payment

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedWebhook    = errors.New("malformed webhook payload")
	ErrUnsupportedCurrency = errors.New("currency not supported by provider")
	ErrRefundsUnsupported  = errors.New("provider does not support refunds")
)

// ProviderError is an upstream failure caught at the adapter boundary.
// Error() never includes the upstream response body; Detail keeps it for logs.
type ProviderError struct {
	Provider   Provider
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: upstream status %d", e.Provider, e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Provider, e.Op)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(p Provider, op string, err error) error {
	return &ProviderError{Provider: p, Op: op, Err: err}
}

func upstreamErr(p Provider, op string, status int, body []byte) error {
	detail := string(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return &ProviderError{Provider: p, Op: op, StatusCode: status, Detail: detail}
}

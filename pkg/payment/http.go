package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every provider HTTP call that has no tighter context deadline.
const DefaultTimeout = 20 * time.Second

// DescriptionToken is the only description text sent to providers.
const DescriptionToken = "Donation"

const maxResponseBytes = 1 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// BuildURL renders base with only the allowed query parameters from params.
// Anything not whitelisted is dropped; values are always query-escaped.
func BuildURL(base string, params url.Values, allowed ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, k := range allowed {
		if v := params.Get(k); v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type jsonCall struct {
	method  string
	url     string
	body    any
	headers map[string]string
	auth    string
}

// doJSON performs an HTTP call and returns the raw response body. Non-2xx
// responses become a ProviderError carrying the status code.
func doJSON(ctx context.Context, client *http.Client, p Provider, op string, c jsonCall) ([]byte, error) {
	var reader io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, providerErr(p, op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return nil, providerErr(p, op, err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, providerErr(p, op, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, providerErr(p, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamErr(p, op, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func decode(p Provider, op string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return providerErr(p, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func hmacHex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqual(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(a))), []byte(b))
}

func trimBase(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}

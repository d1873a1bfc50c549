package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPMailer delivers codes through an HTTP email provider. The provider is
// expected to accept a JSON POST and return 2xx on acceptance.
type HTTPMailer struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// NewHTTPMailer returns a mailer posting to url with the given API key.
func NewHTTPMailer(url, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendLoginCode delivers a login code.
func (m *HTTPMailer) SendLoginCode(ctx context.Context, email, code string) error {
	return m.send(ctx, email, "Your login code",
		fmt.Sprintf("Use this code to finish logging in: %s", code))
}

// SendVerificationCode delivers an address-verification code.
func (m *HTTPMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	return m.send(ctx, email, "Verify your email address",
		fmt.Sprintf("Use this code to verify your email address: %s", code))
}

func (m *HTTPMailer) send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"from":    m.from,
		"to":      to,
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailer: provider returned %d: %s", resp.StatusCode, b)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

const (
	notifyKindPasswordReset     = "password_reset"
	notifyKindEmailVerification = "email_verification"
)

// webhookNotifier hands issued reset and verification tokens to an
// operator-run mailer as a JSON POST. The token only travels in the body.
type webhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newWebhookNotifier(url string, timeout time.Duration) *webhookNotifier {
	return &webhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *webhookNotifier) SendPasswordReset(ctx context.Context, acct goIdentity.AccountSummary, token string, expiresAt time.Time) error {
	return n.post(ctx, notifyKindPasswordReset, acct, token, expiresAt)
}

func (n *webhookNotifier) SendEmailVerification(ctx context.Context, acct goIdentity.AccountSummary, token string, expiresAt time.Time) error {
	return n.post(ctx, notifyKindEmailVerification, acct, token, expiresAt)
}

func (n *webhookNotifier) post(ctx context.Context, kind string, acct goIdentity.AccountSummary, token string, expiresAt time.Time) error {
	body, err := json.Marshal(webhookPayload{
		Kind:      kind,
		AccountID: acct.ID,
		Email:     acct.Email,
		FirstName: acct.FirstName,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify webhook: encode %s: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify webhook: %s: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify webhook: %s: unexpected status %d", kind, resp.StatusCode)
	}
	return nil
}

// Package paypal предоставляет клиент проверки подлинности IPN-уведомлений.
package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Ответы эндпоинта верификации PayPal.
const (
	answerVerified = "VERIFIED"
	answerInvalid  = "INVALID"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом верификации IPN.
type Client struct {
	verifyURL  string
	httpClient *http.Client
}

// NewClient создаёт клиент верификации по указанному адресу.
func NewClient(verifyURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		verifyURL:  verifyURL,
		httpClient: rc.StandardClient(),
	}
}

// Verify повторно отправляет исходное тело уведомления в PayPal и возвращает
// true, только если сервис подтвердил его подлинность.
func (c *Client) Verify(ctx context.Context, rawBody, userAgent string) (bool, error) {
	if c == nil || c.verifyURL == "" {
		return false, fmt.Errorf("verification client not configured")
	}

	payload := "cmd=_notify-validate&" + rawBody

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	switch strings.TrimSpace(string(body)) {
	case answerVerified:
		return true, nil
	case answerInvalid:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected verification answer: %q", strings.TrimSpace(string(body)))
	}
}

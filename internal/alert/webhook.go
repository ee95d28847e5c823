package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
	userAgent      = "hostguard-alert/1"
)

var (
	httpClient = &http.Client{Timeout: requestTimeout}
	// retryBackoff doubles after each failed attempt.
	retryBackoff = time.Second
)

// Send posts event to cfg.URL. Transport errors, 5xx and 429 are retried
// with doubling backoff; any other 4xx fails at once. Cancelling ctx stops
// both the in-flight request and any pending retry.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	wait := retryBackoff
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		retry, err := post(ctx, cfg, event, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// post makes one delivery attempt and reports whether a failure is worth
// retrying.
func post(ctx context.Context, cfg AlertConfig, event AlertEvent, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Hostguard-Event", event.Type)
	if event.HostID != "" {
		req.Header.Set("X-Hostguard-Host", event.HostID)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return false, nil
	case code == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook throttled: HTTP %d", code)
	case code >= 400 && code < 500:
		return false, fmt.Errorf("webhook rejected: HTTP %d", code)
	}
	return true, fmt.Errorf("webhook server error: HTTP %d", code)
}

// Package sms sends alert messages through an HTTP SMS gateway.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type gatewayError struct {
	Message string `json:"message"`
}

// Client posts messages to the gateway's /messages endpoint.
type Client struct {
	http    *resty.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a gateway client. Retries are left to the delivery
// attempt budget, so resty does not retry on its own.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c, logger: logger, metrics: metrics}
}

// Send delivers one message. Any 2xx response is success.
func (c *Client) Send(ctx context.Context, phone, body string) error {
	start := time.Now()
	var apiErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{To: phone, Body: body}).
		SetError(&apiErr).
		Post("/messages")
	c.metrics.SMSDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), msg)
	}
	c.logger.Debug("sms accepted by gateway", "status", resp.StatusCode())
	return nil
}

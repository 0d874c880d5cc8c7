package deidentify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteClient calls a DEDUCE de-identification service over HTTP.
type RemoteClient struct {
	http    *resty.Client
	timeout time.Duration
}

type remoteRequest struct {
	Text  string   `json:"text"`
	Names []string `json:"names,omitempty"`
}

type remoteResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteClient{http: client, timeout: timeout}
}

func (c *RemoteClient) Deidentify(text string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.DeidentifyContext(ctx, text)
}

func (c *RemoteClient) DeidentifyContext(ctx context.Context, text string, names ...string) (string, error) {
	var out remoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(remoteRequest{Text: text, Names: names}).
		SetResult(&out).
		SetError(&out).
		Post("/deidentify")
	if err != nil {
		return "", fmt.Errorf("deidentify request: %w", err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("deidentify service: %s", msg)
	}
	if out.Text == "" && text != "" {
		return "", errors.New("deidentify service returned empty text")
	}
	return out.Text, nil
}

package prompt

import (
	"context"
	"errors"
	"net"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Caller sends one chat completion and returns the raw reply text.
type Caller interface {
	Complete(ctx context.Context, deployment string, messages []Message, temperature float64) (string, error)
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

const (
	defaultModel     = anthropic.ModelClaudeSonnet4_20250514
	defaultMaxTokens = 4096
)

// AnthropicCaller maps deployment names to Anthropic model ids.
type AnthropicCaller struct {
	messages  AnthropicMessager
	models    map[string]string
	maxTokens int64
}

func NewAnthropicCaller(apiKey string, models map[string]string, maxTokens int64) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicCallerWithMessager(&c.Messages, models, maxTokens), nil
}

func NewAnthropicCallerWithMessager(m AnthropicMessager, models map[string]string, maxTokens int64) *AnthropicCaller {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicCaller{messages: m, models: models, maxTokens: maxTokens}
}

func (a *AnthropicCaller) model(deployment string) anthropic.Model {
	if m := strings.TrimSpace(a.models[deployment]); m != "" {
		return anthropic.Model(m)
	}
	return defaultModel
}

func (a *AnthropicCaller) Complete(ctx context.Context, deployment string, messages []Message, temperature float64) (string, error) {
	var system []anthropic.TextBlockParam
	var user []anthropic.ContentBlockParamUnion
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		default:
			user = append(user, anthropic.NewTextBlock(m.Content))
		}
	}
	if len(user) == 0 {
		return "", errors.New("no user content to send")
	}
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model(deployment),
		MaxTokens:   a.maxTokens,
		System:      system,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(user...)},
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

type failureClass int

const (
	failureTimeout failureClass = iota
	failureRateLimit
	failureServer
	failureClient
)

func (c failureClass) String() string {
	switch c {
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limit"
	case failureClient:
		return "client"
	default:
		return "server"
	}
}

// classifyCallError labels a transport failure for logs. Nothing is
// retried on the basis of it.
func classifyCallError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return failureRateLimit
		case apiErr.StatusCode >= 500:
			return failureServer
		case apiErr.StatusCode >= 400:
			return failureClient
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

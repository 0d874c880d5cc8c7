// Package prompt builds the chat prompt for a discharge letter, enforces
// the deployment's context budget and turns the model reply into a
// letter.GeneratedLetter.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/record"
)

// ErrConfiguration is shared with the record package so callers can test
// for misconfiguration with a single errors.Is.
var ErrConfiguration = record.ErrConfiguration

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request holds the prompt fragments of one generation. PostProcessing
// and Addition are optional.
type Request struct {
	System         string
	General        string
	Department     string
	PostProcessing string
	PatientFile    string
	Addition       string
}

// BuildMessages orders the fragments as they are sent: the system prompt,
// then the user fragments with the patient file and the addition last.
func BuildMessages(req Request) []Message {
	msgs := []Message{
		{Role: RoleSystem, Content: req.System},
		{Role: RoleUser, Content: req.General},
		{Role: RoleUser, Content: req.Department},
	}
	if req.PostProcessing != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: req.PostProcessing})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: req.PatientFile})
	if req.Addition != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: req.Addition})
	}
	return msgs
}

var defaultContextLengths = map[string]int{
	"aiva-gpt":      16384,
	"aiva-gpt4":     120000,
	"aiva-gpt4-new": 120000,
}

type Config struct {
	// ContextLengths adds or overrides deployment context windows.
	ContextLengths map[string]int
}

// Observer receives one call per generation attempt.
type Observer interface {
	ObserveGeneration(outcome, deployment string, tokens int, elapsed time.Duration)
}

type Builder struct {
	caller   Caller
	counter  TokenCounter
	contexts map[string]int
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Builder)

func WithLogger(l zerolog.Logger) Option { return func(b *Builder) { b.logger = l } }

func WithObserver(o Observer) Option { return func(b *Builder) { b.observer = o } }

func WithTracer(t trace.Tracer) Option { return func(b *Builder) { b.tracer = t } }

func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

func NewBuilder(cfg Config, caller Caller, counter TokenCounter, opts ...Option) *Builder {
	contexts := make(map[string]int, len(defaultContextLengths)+len(cfg.ContextLengths))
	for k, v := range defaultContextLengths {
		contexts[k] = v
	}
	for k, v := range cfg.ContextLengths {
		contexts[k] = v
	}
	b := &Builder{
		caller:   caller,
		counter:  counter,
		contexts: contexts,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("github.com/joelkehle/discharge-docs/internal/prompt"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxContextFor returns the context window of a deployment.
func (b *Builder) MaxContextFor(deployment string) (int, error) {
	n, ok := b.contexts[deployment]
	if !ok {
		return 0, fmt.Errorf("%w: unknown deployment %q", ErrConfiguration, deployment)
	}
	return n, nil
}

// CountTokens counts the tokens of the concatenated parts.
func (b *Builder) CountTokens(parts ...string) int {
	return b.counter.Count(strings.Join(parts, ""))
}

// CountRequest counts exactly what BuildMessages would send.
func (b *Builder) CountRequest(req Request) int {
	msgs := BuildMessages(req)
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return b.CountTokens(parts...)
}

// Generate runs one generation. The returned error is non-nil only for
// configuration problems; model and transport failures are reported
// through the letter outcome.
func (b *Builder) Generate(ctx context.Context, req Request, temperature float64, deployment string) (letter.GeneratedLetter, error) {
	maxTokens, err := b.MaxContextFor(deployment)
	if err != nil {
		return letter.GeneratedLetter{}, err
	}
	start := b.now()
	tokens := b.CountRequest(req)

	ctx, span := b.tracer.Start(ctx, "prompt.generate", trace.WithAttributes(
		attribute.String("llm.deployment", deployment),
		attribute.Int("llm.input_tokens", tokens),
		attribute.Int("llm.max_context", maxTokens),
	))
	defer span.End()

	log := b.logger.With().Str("deployment", deployment).Int("tokens", tokens).Logger()
	finish := func(l letter.GeneratedLetter) (letter.GeneratedLetter, error) {
		span.SetAttributes(attribute.String("letter.outcome", string(l.Outcome)))
		if !l.OK() {
			span.SetStatus(codes.Error, string(l.Outcome))
		}
		if b.observer != nil {
			b.observer.ObserveGeneration(string(l.Outcome), deployment, tokens, b.now().Sub(start))
		}
		return l, nil
	}

	if tokens > maxTokens {
		log.Error().Int("max_context", maxTokens).Msg("prompt exceeds context length")
		return finish(letter.Failure(letter.OutcomeLengthError, b.now()))
	}

	log.Info().Msg("sending request to model")
	raw, err := b.caller.Complete(ctx, deployment, BuildMessages(req), temperature)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("failure", classifyCallError(err).String()).Msg("completion call failed")
		return finish(letter.Failure(letter.OutcomeGeneralError, b.now()))
	}
	if strings.TrimSpace(raw) == "" {
		log.Error().Msg("empty response from model")
		return finish(letter.Failure(letter.OutcomeGeneralError, b.now()))
	}
	sections, err := letter.Parse(raw)
	if err != nil {
		log.Error().Err(err).Msg("model reply is not valid JSON")
		return finish(letter.Failure(letter.OutcomeJSONError, b.now()))
	}
	log.Info().Int("sections", len(sections)).Msg("letter generated")
	return finish(letter.Success(sections, b.now()))
}

// Package fallback handles input no rule matched by asking a generative
// model. The model may answer in plain text, or with a structured intent
// naming a catalog workflow, which becomes a draft learning proposal.
//
// The model service is optional at runtime: when it is unreachable the
// adapter replies with canned help and marks the outcome degraded.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/beastmode/internal/catalog"
)

// Context is what the model is told besides the user's words.
type Context struct {
	// Topic is the session's current topic.
	Topic string

	// Workflows lists the catalog so the model can name a real workflow.
	Workflows []*catalog.Workflow
}

// Completion is one model answer.
type Completion struct {
	// Text is the reply to show the user.
	Text string

	// Intent is set when the model returned a valid structured intent.
	Intent *Intent

	// Endpoint names the endpoint that answered.
	Endpoint string
}

// Completer is a generative model endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string, c Context) (*Completion, error)
}

// EndpointConfig configures one OpenAI-compatible endpoint. llama.cpp's
// server and the hosted API speak the same chat completions protocol.
type EndpointConfig struct {
	// Name labels the endpoint in logs and spans ("local", "remote").
	Name string

	// BaseURL is the API root including the version path,
	// e.g. "http://localhost:8080/v1".
	BaseURL string

	Model  string
	APIKey string

	// Timeout bounds one completion. Defaults to 30s.
	Timeout time.Duration

	// MaxTokens caps the answer length. Defaults to 500.
	MaxTokens int
}

// OpenAICompleter implements Completer over the chat completions API.
type OpenAICompleter struct {
	cfg    EndpointConfig
	client *openai.Client
}

// NewOpenAICompleter creates a completer for one endpoint.
func NewOpenAICompleter(cfg EndpointConfig) *OpenAICompleter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAICompleter{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

// Complete sends prompt with the system instructions and parses the answer.
func (o *OpenAICompleter) Complete(ctx context.Context, prompt string, c Context) (*Completion, error) {
	ctx, span := tracer.Start(ctx, "fallback.complete",
		trace.WithAttributes(
			attribute.String("gen_ai.endpoint", o.cfg.Name),
			attribute.String("gen_ai.request.model", o.cfg.Model),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(c)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s completion: %w", o.cfg.Name, err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%s completion: no choices returned", o.cfg.Name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)

	comp := ParseCompletion(resp.Choices[0].Message.Content)
	comp.Endpoint = o.cfg.Name
	return comp, nil
}

// DualCompleter prefers a local endpoint and falls back to a remote one
// when the local endpoint cannot be reached. A local endpoint that answers
// with an error is not retried remotely. Either endpoint may be nil.
type DualCompleter struct {
	Local  Completer
	Remote Completer
}

// ErrNoEndpoint is returned when no endpoint is configured.
var ErrNoEndpoint = errors.New("no generative endpoint configured")

// Complete tries Local, then Remote if Local is unreachable. The error
// joins every failure.
func (d DualCompleter) Complete(ctx context.Context, prompt string, c Context) (*Completion, error) {
	switch {
	case d.Local == nil && d.Remote == nil:
		return nil, ErrNoEndpoint
	case d.Local == nil:
		return d.Remote.Complete(ctx, prompt, c)
	}

	comp, err := d.Local.Complete(ctx, prompt, c)
	if err == nil {
		return comp, nil
	}
	if d.Remote == nil || !unreachable(ctx, err) {
		return nil, err
	}
	slog.Debug("local endpoint unreachable, trying remote", "error", err)
	comp, remoteErr := d.Remote.Complete(ctx, prompt, c)
	if remoteErr != nil {
		return nil, errors.Join(err, remoteErr)
	}
	return comp, nil
}

// unreachable reports whether err means the endpoint was never reached: a
// failed lookup or dial, or the endpoint's own timeout expiring while the
// caller's context is still live.
func unreachable(ctx context.Context, err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// SystemPrompt renders the instructions sent ahead of every prompt.
func SystemPrompt(c Context) string {
	var b strings.Builder
	b.WriteString("You are beastmode, an operations assistant that triggers infrastructure workflows.\n")
	b.WriteString("Answer briefly. If the user is asking for one of the workflows below, answer with a single JSON object:\n")
	b.WriteString(`{"reply": "<short answer>", "intent": {"workflow": "<id>", "slots": [{"name": "<input>", "value": "<words from the request>"}]}}`)
	b.WriteString("\nOtherwise answer in plain text.\n")
	if c.Topic != "" {
		fmt.Fprintf(&b, "Current topic: %s\n", c.Topic)
	}
	if len(c.Workflows) > 0 {
		b.WriteString("Workflows:\n")
		for _, w := range c.Workflows {
			fmt.Fprintf(&b, "- %s", w.ID)
			if w.Description != "" {
				fmt.Fprintf(&b, ": %s", w.Description)
			}
			if names := w.InputNames(); len(names) > 0 {
				fmt.Fprintf(&b, " (inputs: %s)", strings.Join(names, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

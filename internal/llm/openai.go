package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds the wait for response headers. Once streaming starts
	// there is no overall deadline; the request context governs it.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts made when the connection
	// itself fails before any response arrives.
	MaxRetries int
}

// OpenAI streams chat completions with go-openai.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	logger     *slog.Logger
}

// NewOpenAI creates an engine for cfg.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	clientCfg.HTTPClient = &http.Client{Transport: transport}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// Stream sends prompt as a single system message.
func (o *OpenAI) Stream(ctx context.Context, prompt string) (FragmentStream, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		Stream: true,
	}

	for attempt := 0; ; attempt++ {
		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return &openAIStream{stream: stream}, nil
		}
		if attempt >= o.maxRetries || !retryable(ctx, err) {
			return nil, fmt.Errorf("llm: starting completion stream: %w", err)
		}
		o.logger.Warn("completion request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
}

// retryable reports whether err is a connection-level failure. API errors
// (the server answered) and cancellations are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

package legitimacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel/legitimacy")

const systemPrompt = "You are a helpful assistant."

const promptTemplate = `I am attempting to detect fraudulent purchases and need to know whether a company is real and trustworthy.
I will provide a company name. Respond with 'Yes' if the company is legitimate and is a place an individual would typically
purchase from with a personal credit card. Respond with 'No' if the company is not real, or if it is something an individual
would not typically buy from with a personal card, such as defense contractors or government suppliers (for example Lockheed
Martin or Naval Nuclear Laboratory). Typical card holders buy from popular restaurants, retailers and specialty stores.

Product names, such as 'iPhone', must be answered 'No' because they are products, not merchants that appear on a statement.
A company that is legitimate in name may still be an unlikely personal purchase; answer 'No' in that case.

Respond with exactly one word, 'Yes' or 'No', and nothing else.

Company: %s`

// ChatOracle asks an OpenAI-compatible chat completions endpoint.
type ChatOracle struct {
	url     string
	apiKey  string
	model   string
	client  *http.Client
	retries uint64
}

// NewChatOracle creates a chat oracle from config.
func NewChatOracle(cfg domain.LegitimacyConfig) *ChatOracle {
	return &ChatOracle{
		url:     cfg.OracleURL,
		apiKey:  cfg.OracleAPIKey,
		model:   cfg.OracleModel,
		client:  &http.Client{Timeout: cfg.OracleTimeout},
		retries: 2,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Ask implements Oracle. Rate limits and server errors are retried within
// the context deadline; any answer other than Yes or No is an error.
func (o *ChatOracle) Ask(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "legitimacy.oracle")
	defer span.End()
	span.SetAttributes(attribute.String("company", name))

	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(promptTemplate, name)},
		},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err != nil {
		return false, err
	}

	var answer string
	op := func() error {
		a, err := o.post(ctx, body)
		if err != nil {
			return err
		}
		answer = a
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}

	span.SetAttributes(attribute.String("answer", answer))
	return ParseAnswer(answer)
}

func (o *ChatOracle) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("oracle returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("oracle returned %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decoding oracle response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("oracle returned no choices"))
	}
	return out.Choices[0].Message.Content, nil
}

// ParseAnswer accepts a bare Yes or No, ignoring case, surrounding space and
// one trailing period.
func ParseAnswer(answer string) (bool, error) {
	a := strings.TrimSuffix(strings.TrimSpace(answer), ".")
	switch {
	case strings.EqualFold(a, "yes"):
		return true, nil
	case strings.EqualFold(a, "no"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: unexpected answer %q", domain.ErrOracleUnavailable, answer)
	}
}

// compile-time checks
var (
	_ Oracle   = (*ChatOracle)(nil)
	_ Verifier = (*Registry)(nil)
	_ Verifier = (*OracleVerifier)(nil)
	_ Verifier = Chain(nil)
)

// Package llm renders named prompts, calls the configured model and turns its output into typed values.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/utils"
)

const defaultMaxLogLength = 200

// ErrMalformedOutput marks a model reply that could not be parsed or did not match the prompt schema.
var ErrMalformedOutput = errors.New("malformed model output")

// Generator is the raw model call.
type Generator interface {
	GenerateContent(ctx context.Context, system, user string) (string, error)
}

// Observer receives the outcome of every gateway call. Metrics implement it.
type Observer interface {
	ObserveLLMCall(prompt string, err error)
}

// Gateway is the single entry point the rest of the bot uses to talk to the model.
type Gateway struct {
	generator Generator
	prompts   *prompts.Set
	logger    *zap.Logger
	maxLogLen int
	observer  Observer
}

type Option func(*Gateway)

func WithMaxLogLength(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxLogLen = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

func NewGateway(generator Generator, set *prompts.Set, log *zap.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		generator: generator,
		prompts:   set,
		logger:    log,
		maxLogLen: defaultMaxLogLength,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prompts exposes the prompt set, mostly for static replies.
func (g *Gateway) Prompts() *prompts.Set {
	return g.prompts
}

// Text renders the prompt and returns the model reply as is.
func (g *Gateway) Text(ctx context.Context, name string, vars map[string]string) (string, error) {
	_, raw, err := g.call(ctx, name, vars)
	return raw, err
}

// Structured renders the prompt, validates the reply against the prompt schema and decodes it into out.
func (g *Gateway) Structured(ctx context.Context, name string, vars map[string]string, out any) error {
	rendered, raw, err := g.call(ctx, name, vars)
	if err != nil {
		return err
	}

	data, err := parseObject(raw)
	if err != nil {
		g.observe(name, ErrMalformedOutput)
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, name, err)
	}

	if err := validate(rendered.Schema, data); err != nil {
		g.observe(name, ErrMalformedOutput)
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, name, err)
	}

	if err := decode(data, out); err != nil {
		g.observe(name, ErrMalformedOutput)
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, name, err)
	}

	g.observe(name, nil)
	return nil
}

func (g *Gateway) call(ctx context.Context, name string, vars map[string]string) (prompts.Rendered, string, error) {
	if g == nil || g.generator == nil || g.prompts == nil {
		return prompts.Rendered{}, "", errors.New("llm gateway is not initialized")
	}

	rendered, err := g.prompts.Render(name, vars)
	if err != nil {
		return prompts.Rendered{}, "", err
	}

	log := g.logger.With(
		zap.String(logger.FieldPrompt, name),
		zap.String("prompt_version", rendered.Version),
	)
	log.Debug("llm request",
		zap.Int("prompt_length", utf8.RuneCountInString(rendered.User)),
		zap.String("prompt_preview", utils.TruncateForLog(rendered.User, g.maxLogLen)),
	)

	raw, err := g.generator.GenerateContent(ctx, rendered.System, rendered.User)
	if err != nil {
		g.observe(name, err)
		return rendered, "", fmt.Errorf("llm %s: %w", name, err)
	}

	log.Debug("llm response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, g.maxLogLen)),
	)

	return rendered, raw, nil
}

func (g *Gateway) observe(name string, err error) {
	if g.observer != nil {
		g.observer.ObserveLLMCall(name, err)
	}
}

// parseObject extracts a JSON object from raw model output. A bare non-JSON reply becomes {"message": raw}.
func parseObject(raw string) (map[string]any, error) {
	cleaned := StripCodeFence(raw)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}

	if !strings.HasPrefix(cleaned, "{") {
		if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
			var data map[string]any
			if err := json.Unmarshal([]byte(cleaned[start:end+1]), &data); err == nil {
				return data, nil
			}
		}
		if strings.HasPrefix(cleaned, "[") {
			return nil, errors.New("expected an object, got an array")
		}
		return map[string]any{"message": cleaned}, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return data, nil
}

// StripCodeFence removes a surrounding markdown code fence.
func StripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```JSON")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func validate(schema string, data map[string]any) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
}

func decode(data map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
		DecodeHook:       nullStringHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(data)
}

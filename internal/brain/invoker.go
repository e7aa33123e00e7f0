package brain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	// StillThinking is returned when the primary call outlives its budget.
	StillThinking = "I'm still thinking about that. Ask me again in a moment."
	// Apology is returned when both tiers fail.
	Apology = "Sorry, I couldn't get an answer together right now."

	defaultPrimaryTimeout  = 10 * time.Second
	defaultFallbackTimeout = 5 * time.Second
	fallbackContextLimit   = 512
)

// Invoker wraps a Client with the two-tier degrade policy: a primary call
// raced against its budget, one fallback call on a cheaper model, and fixed
// copy when everything fails. It never returns an empty answer.
type Invoker struct {
	client          Client
	primaryModel    string
	fallbackModel   string
	primaryTimeout  time.Duration
	fallbackTimeout time.Duration
	maxTokens       int
	temperature     float64
	log             zerolog.Logger
}

type InvokerConfig struct {
	PrimaryModel    string
	FallbackModel   string
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	MaxTokens       int
	Temperature     float64
}

func NewInvoker(client Client, cfg InvokerConfig, log zerolog.Logger) *Invoker {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = defaultPrimaryTimeout
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaultFallbackTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Invoker{
		client:          client,
		primaryModel:    cfg.PrimaryModel,
		fallbackModel:   cfg.FallbackModel,
		primaryTimeout:  cfg.PrimaryTimeout,
		fallbackTimeout: cfg.FallbackTimeout,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		log:             log.With().Str("component", "brain").Logger(),
	}
}

// Answer produces assistant text for a question. The primary call is raced
// locally against its budget; an expired call keeps running server-side and
// the caller gets the placeholder. Any non-timeout failure gets exactly one
// fallback attempt with a reduced context before the apology.
func (i *Invoker) Answer(ctx context.Context, question, systemContext string) string {
	text, err := i.race(ctx, Request{
		Model:        i.primaryModel,
		SystemPrompt: systemContext,
		UserText:     question,
		MaxTokens:    i.maxTokens,
		Temperature:  i.temperature,
	}, i.primaryTimeout)
	if err == nil {
		return text
	}
	if errors.Is(err, ErrTimeout) {
		i.log.Warn().Dur("budget", i.primaryTimeout).Msg("primary completion timed out")
		return StillThinking
	}

	i.log.Warn().Err(err).Str("model", i.primaryModel).Msg("primary completion failed, trying fallback")
	text, err = i.race(ctx, Request{
		Model:        i.fallbackModel,
		SystemPrompt: truncate(systemContext, fallbackContextLimit),
		UserText:     question,
		MaxTokens:    i.maxTokens / 2,
		Temperature:  i.temperature,
	}, i.fallbackTimeout)
	if err != nil {
		i.log.Error().Err(err).Str("model", i.fallbackModel).Msg("fallback completion failed")
		return Apology
	}
	return text
}

// race runs one Complete call and abandons it when the budget expires. The
// goroutine writes into a buffered channel so a late result is dropped, not
// leaked.
func (i *Invoker) race(ctx context.Context, req Request, budget time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := i.client.Complete(callCtx, req)
		done <- result{text: text, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err == nil && res.text == "" {
			return "", errors.New("empty completion")
		}
		return res.text, res.err
	case <-timer.C:
		return "", ErrTimeout
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

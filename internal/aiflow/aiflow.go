// Package aiflow runs the dashboard's generative-AI flows: typed input,
// prompt, JSON output checked against a schema.
//
// A flow never fails the caller because the model failed. Any transport,
// timeout, empty answer or schema violation is ErrInvocation, and Run
// degrades it to the flow's manual fallback with a notice for the user.
// Only invalid input is returned as an error.
package aiflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

var (
	ErrInvocation   = errors.New("aiflow: invocation failed")
	ErrInvalidInput = errors.New("aiflow: invalid input")
)

// Image is inline media sent with a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one structured generation call.
type Request struct {
	Name   string
	Prompt string
	Schema *genai.Schema
	Images []Image
}

// Generator produces JSON matching req.Schema.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// Outcome is a flow result. Manual means the output is the fallback and the
// user should complete it by hand.
type Outcome[T any] struct {
	Output T      `json:"output"`
	Manual bool   `json:"manual"`
	Notice string `json:"notice,omitempty"`
}

// Observer sees every flow run, e.g. for metrics.
type Observer func(flow string, manual bool, elapsed time.Duration)

// Runner executes flows against a Generator.
type Runner struct {
	gen     Generator
	timeout time.Duration
	logger  *zap.Logger
	observe Observer
}

// NewRunner creates a runner. timeout bounds each model call; zero means 30s.
func NewRunner(gen Generator, timeout time.Duration, logger *zap.Logger, observe Observer) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{gen: gen, timeout: timeout, logger: logger, observe: observe}
}

type flow[In, Out any] struct {
	name     string
	schema   *genai.Schema
	validate func(In) error
	build    func(In) (string, []Image)
	check    func(*Out) error
	fallback func(In) Out
	notice   string
}

func run[In, Out any](ctx context.Context, r *Runner, f flow[In, Out], in In) (Outcome[Out], error) {
	if f.validate != nil {
		if err := f.validate(in); err != nil {
			return Outcome[Out]{}, errors.Join(ErrInvalidInput, err)
		}
	}
	start := time.Now()
	out, err := invoke(ctx, r, f, in)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("ai flow degraded to manual", zap.String("flow", f.name), zap.Duration("elapsed", elapsed), zap.Error(err))
		if r.observe != nil {
			r.observe(f.name, true, elapsed)
		}
		return Outcome[Out]{Output: f.fallback(in), Manual: true, Notice: f.notice}, nil
	}
	r.logger.Debug("ai flow ok", zap.String("flow", f.name), zap.Duration("elapsed", elapsed))
	if r.observe != nil {
		r.observe(f.name, false, elapsed)
	}
	return Outcome[Out]{Output: out}, nil
}

func invoke[In, Out any](ctx context.Context, r *Runner, f flow[In, Out], in In) (Out, error) {
	var out Out
	if r.gen == nil {
		return out, fmt.Errorf("%w: %s: no generator", ErrInvocation, f.name)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt, images := f.build(in)
	raw, err := r.gen.Generate(ctx, Request{Name: f.name, Prompt: prompt, Schema: f.schema, Images: images})
	if err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrInvocation, f.name, err)
	}
	if len(raw) == 0 {
		return out, fmt.Errorf("%w: %s: empty response", ErrInvocation, f.name)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s: decode output: %w", ErrInvocation, f.name, err)
	}
	if f.check != nil {
		if err := f.check(&out); err != nil {
			return out, fmt.Errorf("%w: %s: %w", ErrInvocation, f.name, err)
		}
	}
	return out, nil
}

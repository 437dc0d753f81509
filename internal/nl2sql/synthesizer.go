package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/model"
	"github.com/llm4sql/llm4sql/internal/observability"
	"github.com/llm4sql/llm4sql/internal/schema"
)

type Result struct {
	SQL      string `json:"sql"`
	Prompt   string `json:"prompt"`
	Raw      string `json:"raw"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// Synthesizer prompts a shared Generator once per call and extracts SQL from
// its output. It holds no per-request state.
type Synthesizer struct {
	generator model.Generator
	mode      config.ExtractMode
	logger    *slog.Logger
}

func NewSynthesizer(generator model.Generator, mode config.ExtractMode, logger *slog.Logger) (*Synthesizer, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	switch mode {
	case "":
		mode = config.ExtractStrict
	case config.ExtractStrict, config.ExtractLegacy:
	default:
		return nil, fmt.Errorf("unknown extract mode %q", mode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{generator: generator, mode: mode, logger: logger}, nil
}

// Synthesize never retries. Generator errors are returned wrapped; output
// without SQL yields ErrNoSQL in strict mode. Result carries the prompt and
// raw output in both cases.
func (s *Synthesizer) Synthesize(ctx context.Context, tables []schema.Table, question string) (Result, error) {
	result := Result{
		Prompt:   BuildPrompt(tables, question),
		Model:    s.generator.Name(),
		Provider: s.generator.Provider(),
	}

	start := time.Now()
	raw, err := s.generator.Generate(ctx, result.Prompt)
	observability.ObserveGeneration(result.Provider, time.Since(start))
	if err != nil {
		return result, fmt.Errorf("generate sql: %w", err)
	}
	result.Raw = raw
	s.logger.DebugContext(ctx, "model output",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("provider", result.Provider),
		slog.Int("raw_bytes", len(raw)),
		slog.String("elapsed", time.Since(start).String()),
	)

	sql, err := Extract(s.mode, raw)
	if err != nil {
		if errors.Is(err, ErrNoSQL) {
			observability.IncrementExtractionFallback(string(s.mode))
			s.logger.WarnContext(ctx, "model output contains no sql",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("mode", string(s.mode)),
			)
		}
		return result, err
	}
	if s.mode == config.ExtractLegacy && !containsSelect(raw) {
		observability.IncrementExtractionFallback(string(s.mode))
		s.logger.WarnContext(ctx, "model output contains no SELECT, passing it through",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		)
	}
	result.SQL = sql
	return result, nil
}

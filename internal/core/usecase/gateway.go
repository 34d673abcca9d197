package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
)

const (
	DefaultClassifierTimeout = 10 * time.Second
	DefaultSuggestionTopK    = 5
	maxSuggestionTopK        = 50
)

type GatewayOptions struct {
	Timeout  time.Duration
	TopK     int
	Observer ports.WorkflowObserver
	Logger   *slog.Logger
}

// ClassificationGateway calls the external classifier with a hard deadline. Every failure path
// yields an empty result tagged with the error provenance; nothing is returned as an error.
type ClassificationGateway struct {
	provider ports.ClassificationProvider
	timeout  time.Duration
	topK     int
	observer ports.WorkflowObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewClassificationGateway accepts a nil provider; calls then degrade immediately.
func NewClassificationGateway(provider ports.ClassificationProvider, options GatewayOptions) *ClassificationGateway {
	g := &ClassificationGateway{
		provider: provider,
		timeout:  options.Timeout,
		topK:     options.TopK,
		observer: options.Observer,
		logger:   options.Logger,
		now:      time.Now,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultClassifierTimeout
	}
	if g.topK <= 0 {
		g.topK = DefaultSuggestionTopK
	}
	if g.observer == nil {
		g.observer = NopObserver{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

func (g *ClassificationGateway) SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) domain.HSSuggestionSet {
	empty := domain.HSSuggestionSet{Suggestions: []domain.HSSuggestion{}, Provenance: domain.ProvenanceError}
	k := req.K
	if k <= 0 {
		k = g.topK
	}
	if k > maxSuggestionTopK {
		k = maxSuggestionTopK
	}
	req.K = k

	var suggestions []domain.HSSuggestion
	err := g.call(ctx, "suggest_hs", func(callCtx context.Context) error {
		var callErr error
		suggestions, callErr = g.provider.SuggestHS(callCtx, req)
		return callErr
	})
	if err != nil {
		return empty
	}

	// Suggestions keep the provider's order and scores; only entries without a code are dropped.
	out := make([]domain.HSSuggestion, 0, k)
	for _, s := range suggestions {
		if strings.TrimSpace(s.HSCode) == "" {
			continue
		}
		out = append(out, s)
		if len(out) == k {
			break
		}
	}
	return domain.HSSuggestionSet{Suggestions: out, Provenance: domain.ProvenanceExternal}
}

func (g *ClassificationGateway) PredictDocuments(ctx context.Context, req domain.DocumentPredictionRequest) domain.DocumentPrediction {
	empty := domain.DocumentPrediction{
		RequiredDocuments: []string{},
		ConfidenceScores:  map[string]float64{},
		Provenance:        domain.ProvenanceError,
	}

	var prediction domain.DocumentPrediction
	err := g.call(ctx, "predict_documents", func(callCtx context.Context) error {
		var callErr error
		prediction, callErr = g.provider.PredictDocuments(callCtx, req)
		return callErr
	})
	if err != nil {
		return empty
	}

	docs := domain.NormalizeDocumentNames(prediction.RequiredDocuments)
	scores := make(map[string]float64, len(prediction.ConfidenceScores))
	for name, score := range prediction.ConfidenceScores {
		scores[name] = domain.ClampConfidence(score)
	}
	return domain.DocumentPrediction{RequiredDocuments: docs, ConfidenceScores: scores, Provenance: domain.ProvenanceExternal}
}

func (g *ClassificationGateway) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if g.provider == nil {
		g.degraded(operation, "absent", 0, domain.ErrClassificationUnavailable)
		return domain.ErrClassificationUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	err := fn(callCtx)
	elapsed := g.now().Sub(start)
	if err == nil {
		g.observer.ObserveGatewayCall(operation, "success", elapsed)
		return nil
	}

	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		outcome = "timeout"
	}
	g.degraded(operation, outcome, elapsed, err)
	return domain.WrapError(domain.ErrClassificationUnavailable, operation, err)
}

func (g *ClassificationGateway) degraded(operation, outcome string, elapsed time.Duration, err error) {
	g.observer.ObserveGatewayCall(operation, outcome, elapsed)
	g.logger.Warn("classification_degraded",
		"operation", operation,
		"outcome", outcome,
		"duration_ms", float64(elapsed.Microseconds())/1000.0,
		"error", err,
	)
}

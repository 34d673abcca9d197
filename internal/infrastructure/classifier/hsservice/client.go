package hsservice

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/resilience"
)

// Client talks to the HS classification service over JSON/HTTP. Deadlines come from the caller's
// context; the http.Client carries no timeout of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = resilience.NewExecutor(resilience.DefaultConfig(), resilience.WithLogger(slog.Default()))
	}
	return c
}

type suggestRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	K           int    `json:"k"`
}

type suggestResponse struct {
	Suggestions []struct {
		HSCode      string   `json:"hscode"`
		Description string   `json:"description"`
		Score       *float64 `json:"score"`
	} `json:"suggestions"`
}

func (c *Client) SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) ([]domain.HSSuggestion, error) {
	payload := suggestRequest{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		K:           req.K,
	}

	var response suggestResponse
	if err := c.call(ctx, "suggest_hs", "/suggest-hs", payload, &response); err != nil {
		return nil, err
	}
	if response.Suggestions == nil {
		return nil, malformed("suggest_hs", "suggestions is missing")
	}

	out := make([]domain.HSSuggestion, 0, len(response.Suggestions))
	for _, s := range response.Suggestions {
		score := 0.0
		if s.Score != nil {
			score = *s.Score
		}
		out = append(out, domain.HSSuggestion{
			HSCode:      strings.TrimSpace(s.HSCode),
			Description: strings.TrimSpace(s.Description),
			Score:       score,
		})
	}
	return out, nil
}

type predictRequest struct {
	OriginCountry      string  `json:"origin_country"`
	DestinationCountry string  `json:"destination_country"`
	HSCode             string  `json:"hs_code"`
	ProductCategory    string  `json:"product_category"`
	ProductDescription string  `json:"product_description"`
	ModeOfTransport    string  `json:"mode_of_transport"`
	DeclaredValue      float64 `json:"declared_value"`
}

type predictResponse struct {
	RequiredDocuments []string           `json:"required_documents"`
	ConfidenceScores  map[string]float64 `json:"confidence_scores"`
}

func (c *Client) PredictDocuments(ctx context.Context, req domain.DocumentPredictionRequest) (domain.DocumentPrediction, error) {
	payload := predictRequest{
		OriginCountry:      req.OriginCountry,
		DestinationCountry: req.DestinationCountry,
		HSCode:             req.HSCode,
		ProductCategory:    req.ProductCategory,
		ProductDescription: req.ProductDescription,
		ModeOfTransport:    req.ModeOfTransport,
		DeclaredValue:      req.DeclaredValue,
	}

	var response predictResponse
	if err := c.call(ctx, "predict_documents", "/predict-documents", payload, &response); err != nil {
		return domain.DocumentPrediction{}, err
	}
	if response.RequiredDocuments == nil {
		return domain.DocumentPrediction{}, malformed("predict_documents", "required_documents is missing")
	}
	if response.ConfidenceScores == nil {
		response.ConfidenceScores = map[string]float64{}
	}
	return domain.DocumentPrediction{
		RequiredDocuments: response.RequiredDocuments,
		ConfidenceScores:  response.ConfidenceScores,
		Provenance:        domain.ProvenanceExternal,
	}, nil
}

func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	err := c.executor.Execute(ctx, "hsservice."+operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, payload, out, operation)
	}, classifyServiceError)
	return wrapTemporaryIfNeeded(operation, err)
}

package usecase

import (
	"context"
	"regexp"
	"strings"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

const (
	explicitConfidence = 0.98
	unknownConfidence  = 0.35
	lowConfidenceBelow = 0.5
	permitRestriction  = "May be restricted or require permits"
)

var (
	explicitHSCodePattern = regexp.MustCompile(`\b(\d{6,8})\b`)
	declaredHSCodePattern = regexp.MustCompile(`^\d{6,8}$`)
	explicitRiskKeywords  = []string{"battery", "lithium", "dangerous"}
)

// ComplianceEvaluator produces one classification verdict from explicit codes or keyword rules.
type ComplianceEvaluator struct {
	rules []HeuristicRule
}

func NewComplianceEvaluator(rules []HeuristicRule) *ComplianceEvaluator {
	if len(rules) == 0 {
		rules = DefaultHeuristicRules()
	}
	return &ComplianceEvaluator{rules: rules}
}

func (e *ComplianceEvaluator) Evaluate(input domain.ComplianceInput) domain.ClassificationResult {
	text := strings.TrimSpace(input.Description)
	declared := strings.TrimSpace(input.DeclaredHSCode)
	if text == "" && declared == "" {
		return domain.ClassificationResult{
			HSCode:       "",
			Confidence:   0,
			RiskLevel:    domain.RiskMedium,
			Restrictions: []string{},
			Suggestions:  []string{"Provide a product description"},
			Provenance:   domain.ProvenanceError,
			Notes:        "empty_input",
		}
	}

	lowered := strings.ToLower(text)
	if code, ok := explicitCode(text, declared); ok {
		risk := containsAny(lowered, explicitRiskKeywords)
		return finalize(domain.ClassificationResult{
			HSCode:       code,
			Confidence:   explicitConfidence,
			Risk:         risk,
			Restrictions: []string{},
			Suggestions:  []string{"Verify origin", "Confirm packing"},
			Provenance:   domain.ProvenanceExplicit,
			Notes:        "extracted_explicit_hs",
		}, false)
	}

	if category := strings.ToLower(strings.TrimSpace(input.Category)); category != "" {
		lowered = lowered + " " + category
	}
	for _, rule := range e.rules {
		if !rule.matches(lowered) {
			continue
		}
		restrictions := append([]string{}, rule.Restrictions...)
		if rule.Risk {
			restrictions = append(restrictions, permitRestriction)
		}
		return finalize(domain.ClassificationResult{
			HSCode:       rule.HSCode,
			Confidence:   rule.Confidence,
			Risk:         rule.Risk,
			Restrictions: restrictions,
			Suggestions:  append([]string{}, rule.Suggestions...),
			Provenance:   domain.ProvenanceHeuristic,
			Notes:        "heuristic_" + rule.Name,
		}, rule.Prohibited)
	}

	return finalize(domain.ClassificationResult{
		HSCode:       domain.UnknownHSCode,
		Confidence:   unknownConfidence,
		Restrictions: []string{},
		Suggestions:  []string{"Provide more detailed description"},
		Provenance:   domain.ProvenanceHeuristic,
		Notes:        "no_rule_matched",
	}, false)
}

func explicitCode(text, declared string) (string, bool) {
	if m := explicitHSCodePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if declaredHSCodePattern.MatchString(declared) {
		return declared, true
	}
	return "", false
}

func finalize(result domain.ClassificationResult, prohibited bool) domain.ClassificationResult {
	result.Confidence = domain.ClampConfidence(result.Confidence)
	switch {
	case prohibited:
		result.RiskLevel = domain.RiskCritical
	case result.Risk:
		result.RiskLevel = domain.RiskHigh
	case result.Confidence < lowConfidenceBelow:
		result.RiskLevel = domain.RiskMedium
	default:
		result.RiskLevel = domain.RiskLow
	}
	return result
}

func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ComplianceAdvisorService serves the standalone classification operations.
type ComplianceAdvisorService struct {
	evaluator *ComplianceEvaluator
	gateway   *ClassificationGateway
	observer  ClassificationObserver
}

// ClassificationObserver is the subset of the workflow observer the advisor reports to.
type ClassificationObserver interface {
	ObserveClassification(provenance domain.Provenance, risk domain.RiskLevel)
}

func NewComplianceAdvisorService(evaluator *ComplianceEvaluator, gateway *ClassificationGateway, observer ClassificationObserver) *ComplianceAdvisorService {
	if observer == nil {
		observer = NopObserver{}
	}
	return &ComplianceAdvisorService{evaluator: evaluator, gateway: gateway, observer: observer}
}

func (s *ComplianceAdvisorService) Analyze(_ context.Context, input domain.ComplianceInput) domain.ClassificationResult {
	result := s.evaluator.Evaluate(input)
	s.observer.ObserveClassification(result.Provenance, result.RiskLevel)
	return result
}

func (s *ComplianceAdvisorService) SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) domain.HSSuggestionSet {
	return s.gateway.SuggestHS(ctx, req)
}

func (s *ComplianceAdvisorService) PredictDocuments(ctx context.Context, req domain.DocumentPredictionRequest) domain.DocumentPrediction {
	return s.gateway.PredictDocuments(ctx, req)
}

package domain

type Provenance string

const (
	ProvenanceExplicit  Provenance = "explicit"
	ProvenanceHeuristic Provenance = "heuristic"
	ProvenanceExternal  Provenance = "external"
	ProvenanceError     Provenance = "error"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// UnknownHSCode is returned when no tier recognised the goods.
const UnknownHSCode = "unknown"

type ClassificationResult struct {
	HSCode       string     `json:"hs_code"`
	Confidence   float64    `json:"confidence"`
	Risk         bool       `json:"risk"`
	RiskLevel    RiskLevel  `json:"risk_level"`
	Restrictions []string   `json:"restrictions"`
	Suggestions  []string   `json:"suggestions"`
	Provenance   Provenance `json:"provenance"`
	Notes        string     `json:"notes,omitempty"`
}

func (r ClassificationResult) Clone() ClassificationResult {
	out := r
	out.Restrictions = append([]string(nil), r.Restrictions...)
	out.Suggestions = append([]string(nil), r.Suggestions...)
	return out
}

// ComplianceInput is what the evaluator looks at for one shipment.
type ComplianceInput struct {
	Description    string `json:"description"`
	DeclaredHSCode string `json:"declared_hs_code,omitempty"`
	Category       string `json:"category,omitempty"`
}

type HSSuggestion struct {
	HSCode      string  `json:"hscode"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type HSSuggestionRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	K           int    `json:"k"`
}

type HSSuggestionSet struct {
	Suggestions []HSSuggestion `json:"suggestions"`
	Provenance  Provenance     `json:"provenance"`
}

type DocumentPredictionRequest struct {
	OriginCountry      string  `json:"origin_country"`
	DestinationCountry string  `json:"destination_country"`
	HSCode             string  `json:"hs_code"`
	ProductCategory    string  `json:"product_category"`
	ProductDescription string  `json:"product_description"`
	ModeOfTransport    string  `json:"mode_of_transport"`
	DeclaredValue      float64 `json:"declared_value"`
}

type DocumentPrediction struct {
	RequiredDocuments []string           `json:"required_documents"`
	ConfidenceScores  map[string]float64 `json:"confidence_scores"`
	Provenance        Provenance         `json:"provenance"`
}

func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

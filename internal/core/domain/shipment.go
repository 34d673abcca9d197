package domain

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft              Status = "draft"
	StatusSubmitted          Status = "submitted"
	StatusAIReview           Status = "ai_review"
	StatusBrokerReview       Status = "broker_review"
	StatusDocumentsRequested Status = "documents_requested"
	StatusApproved           Status = "approved"
	StatusTokenIssued        Status = "token_issued"
	StatusDenied             Status = "denied"
	StatusCancelled          Status = "cancelled"
)

var allStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusAIReview,
	StatusBrokerReview,
	StatusDocumentsRequested,
	StatusApproved,
	StatusTokenIssued,
	StatusDenied,
	StatusCancelled,
}

// TerminalStatuses are excluded from broker load.
var TerminalStatuses = []Status{StatusDenied, StatusCancelled, StatusTokenIssued}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusCancelled, StatusTokenIssued:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	if !s.Valid() {
		return "", WrapError(ErrInvalidInput, "parse status", fmt.Errorf("unknown status %q", raw))
	}
	return s, nil
}

type ApprovalStatus string

const (
	ApprovalNotStarted         ApprovalStatus = "not_started"
	ApprovalPending            ApprovalStatus = "pending"
	ApprovalApproved           ApprovalStatus = "approved"
	ApprovalRejected           ApprovalStatus = "rejected"
	ApprovalDocumentsRequested ApprovalStatus = "documents_requested"
)

type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	HSCode      string  `json:"hs_code,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitValue   float64 `json:"unit_value"`
}

type ComplianceRecord struct {
	Result            ClassificationResult `json:"result"`
	RequiredDocuments []string             `json:"required_documents,omitempty"`
	EvaluatedAt       time.Time            `json:"evaluated_at"`
}

type Shipment struct {
	ID                 string            `json:"id"`
	ReferenceID        string            `json:"reference_id"`
	ShipperID          string            `json:"shipper_id"`
	Name               string            `json:"name,omitempty"`
	OriginCountry      string            `json:"origin_country"`
	DestinationCountry string            `json:"destination_country"`
	Mode               string            `json:"mode,omitempty"`
	DeclaredValue      float64           `json:"declared_value"`
	Currency           string            `json:"currency,omitempty"`
	LineItems          []LineItem        `json:"line_items"`
	Status             Status            `json:"status"`
	AIApproval         ApprovalStatus    `json:"ai_approval_status"`
	BrokerApproval     ApprovalStatus    `json:"broker_approval_status"`
	AssignedBrokerID   *string           `json:"assigned_broker_id,omitempty"`
	ClearanceToken     *string           `json:"clearance_token,omitempty"`
	TokenIssuedAt      *time.Time        `json:"token_issued_at,omitempty"`
	Compliance         *ComplianceRecord `json:"compliance,omitempty"`
	RequestedDocuments []string          `json:"requested_documents,omitempty"`
	DenialReason       string            `json:"denial_reason,omitempty"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HSCategories returns the distinct two-digit chapter prefixes of the line-item HS codes,
// in first-seen order.
func (s *Shipment) HSCategories() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(s.LineItems))
	for _, item := range s.LineItems {
		code := strings.TrimSpace(item.HSCode)
		if len(code) < 2 {
			continue
		}
		category := code[:2]
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		out = append(out, category)
	}
	return out
}

// Description joins the free-text parts a classifier can look at.
func (s *Shipment) Description() string {
	parts := make([]string, 0, len(s.LineItems)+1)
	if name := strings.TrimSpace(s.Name); name != "" {
		parts = append(parts, name)
	}
	for _, item := range s.LineItems {
		text := strings.TrimSpace(strings.TrimSpace(item.Name) + " " + strings.TrimSpace(item.Description))
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "; ")
}

// DeclaredHSCode is the first HS code a line item carries, if any.
func (s *Shipment) DeclaredHSCode() string {
	for _, item := range s.LineItems {
		if code := strings.TrimSpace(item.HSCode); code != "" {
			return code
		}
	}
	return ""
}

func (s *Shipment) PrimaryCategory() string {
	for _, item := range s.LineItems {
		if c := strings.TrimSpace(item.Category); c != "" {
			return c
		}
	}
	return ""
}

func (s *Shipment) IsAssignedTo(brokerID string) bool {
	return s.AssignedBrokerID != nil && *s.AssignedBrokerID == brokerID
}

// FullyApproved mirrors the clearance token invariant.
func (s *Shipment) FullyApproved() bool {
	return s.AIApproval == ApprovalApproved && s.BrokerApproval == ApprovalApproved
}

// Clone returns a deep copy so a transition can be computed without touching the caller's value.
func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	out := *s
	out.LineItems = append([]LineItem(nil), s.LineItems...)
	out.RequestedDocuments = append([]string(nil), s.RequestedDocuments...)
	if s.AssignedBrokerID != nil {
		id := *s.AssignedBrokerID
		out.AssignedBrokerID = &id
	}
	if s.ClearanceToken != nil {
		token := *s.ClearanceToken
		out.ClearanceToken = &token
	}
	if s.TokenIssuedAt != nil {
		at := *s.TokenIssuedAt
		out.TokenIssuedAt = &at
	}
	if s.Compliance != nil {
		record := *s.Compliance
		record.RequiredDocuments = append([]string(nil), s.Compliance.RequiredDocuments...)
		record.Result = s.Compliance.Result.Clone()
		out.Compliance = &record
	}
	return &out
}

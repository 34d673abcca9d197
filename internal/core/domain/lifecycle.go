package domain

import (
	"fmt"
	"strings"
	"time"
)

type EventKind string

const (
	EventSubmit                 EventKind = "submit"
	EventClassificationComplete EventKind = "classification_complete"
	EventBrokerApprove          EventKind = "broker_approve"
	EventBrokerDeny             EventKind = "broker_deny"
	EventRequestDocuments       EventKind = "request_documents"
	EventDocumentsSatisfied     EventKind = "documents_satisfied"
	EventIssueToken             EventKind = "issue_token"
	EventCancel                 EventKind = "cancel"
)

// Event is one trigger fed into the lifecycle. Only the fields relevant to Kind are read.
type Event struct {
	Kind              EventKind
	Classification    *ClassificationResult
	RequiredDocuments []string
	Reason            string
	Documents         []string
	DocumentsUploaded bool
	Token             string
	At                time.Time
}

type IntentKind string

const (
	IntentEvaluateCompliance       IntentKind = "evaluate_compliance"
	IntentAssignBroker             IntentKind = "assign_broker"
	IntentIssueToken               IntentKind = "issue_token"
	IntentRecordRequestedDocuments IntentKind = "record_requested_documents"
	IntentNotify                   IntentKind = "notify"
)

// Intent is a side effect the orchestrator must carry out after a transition.
type Intent struct {
	Kind         IntentKind
	Notification NotificationType
	Recipient    string
	Message      string
	Documents    []string
}

type Transition struct {
	Event    EventKind
	From     Status
	To       Status
	Path     []Status
	Shipment *Shipment
	Intents  []Intent
	// NoOp marks a replay of an event that was already applied.
	NoOp bool
}

func (t Transition) Has(kind IntentKind) bool {
	for _, intent := range t.Intents {
		if intent.Kind == kind {
			return true
		}
	}
	return false
}

// Apply computes the transition for ev without mutating s. It performs no I/O; the returned
// Shipment is a copy carrying the new state.
func Apply(s *Shipment, ev Event) (Transition, error) {
	if s == nil {
		return Transition{}, WrapError(ErrInvalidInput, "apply lifecycle event", fmt.Errorf("shipment is nil"))
	}
	next := s.Clone()
	t := Transition{Event: ev.Kind, From: s.Status, To: s.Status, Shipment: next}

	if noop, ok := replay(next, ev); ok {
		t.NoOp = true
		t.Intents = noop
		return t, nil
	}
	if s.Status.IsTerminal() {
		return Transition{}, reject(s.Status, ev.Kind, "shipment is in a terminal status")
	}

	var err error
	switch ev.Kind {
	case EventSubmit:
		err = applySubmit(&t, ev)
	case EventClassificationComplete:
		err = applyClassification(&t, ev)
	case EventBrokerApprove:
		err = applyBrokerApprove(&t)
	case EventBrokerDeny:
		err = applyBrokerDeny(&t, ev)
	case EventRequestDocuments:
		err = applyRequestDocuments(&t, ev)
	case EventDocumentsSatisfied:
		err = applyDocumentsSatisfied(&t, ev)
	case EventIssueToken:
		err = applyIssueToken(&t, ev)
	case EventCancel:
		err = applyCancel(&t, ev)
	default:
		err = reject(s.Status, ev.Kind, "unknown event")
	}
	if err != nil {
		return Transition{}, err
	}

	next.Status = t.To
	if !ev.At.IsZero() {
		next.UpdatedAt = ev.At
	}
	return t, nil
}

// replay recognises events whose effect is already visible on s.
func replay(s *Shipment, ev Event) ([]Intent, bool) {
	switch {
	case ev.Kind == EventSubmit && (s.Status == StatusSubmitted || s.Status == StatusAIReview):
		// The submission stalled before its verdict was written; classification runs again.
		return []Intent{{Kind: IntentEvaluateCompliance}}, true
	case ev.Kind == EventIssueToken && s.Status == StatusTokenIssued:
		return nil, true
	case ev.Kind == EventBrokerApprove && s.Status == StatusTokenIssued:
		return nil, true
	case ev.Kind == EventBrokerApprove && s.Status == StatusApproved:
		if s.ClearanceToken == nil && s.FullyApproved() {
			return []Intent{{Kind: IntentIssueToken}}, true
		}
		return nil, true
	case ev.Kind == EventBrokerDeny && s.Status == StatusDenied:
		return nil, true
	case ev.Kind == EventCancel && s.Status == StatusCancelled:
		return nil, true
	case ev.Kind == EventDocumentsSatisfied && s.Status == StatusBrokerReview:
		return nil, true
	default:
		return nil, false
	}
}

func applySubmit(t *Transition, _ Event) error {
	s := t.Shipment
	if t.From != StatusDraft {
		return reject(t.From, EventSubmit, "only drafts can be submitted")
	}
	if len(s.LineItems) == 0 {
		return reject(t.From, EventSubmit, "shipment has no line items")
	}
	s.AIApproval = ApprovalPending
	s.BrokerApproval = ApprovalNotStarted
	t.To = StatusSubmitted
	t.Path = []Status{StatusSubmitted}
	t.Intents = []Intent{
		{Kind: IntentEvaluateCompliance},
		notify(NotifySubmitted, s.ShipperID, "shipment submitted for compliance review"),
	}
	return nil
}

func applyClassification(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From != StatusSubmitted && t.From != StatusAIReview {
		return reject(t.From, ev.Kind, "shipment is not awaiting classification")
	}
	if ev.Classification == nil {
		return reject(t.From, ev.Kind, "classification result is required")
	}

	s.Compliance = &ComplianceRecord{
		Result:            ev.Classification.Clone(),
		RequiredDocuments: append([]string(nil), ev.RequiredDocuments...),
		EvaluatedAt:       ev.At,
	}
	if t.From == StatusSubmitted {
		t.Path = append(t.Path, StatusAIReview)
	}

	if ev.Classification.RiskLevel == RiskCritical {
		s.AIApproval = ApprovalRejected
		s.DenialReason = criticalRiskReason(*ev.Classification)
		t.To = StatusDenied
		t.Path = append(t.Path, StatusDenied)
		t.Intents = []Intent{notify(NotifyDenied, s.ShipperID, s.DenialReason)}
		return nil
	}

	s.AIApproval = ApprovalApproved
	s.BrokerApproval = ApprovalPending
	t.To = StatusBrokerReview
	t.Path = append(t.Path, StatusBrokerReview)
	if s.AssignedBrokerID == nil {
		t.Intents = append(t.Intents, Intent{Kind: IntentAssignBroker})
	}
	t.Intents = append(t.Intents, notify(NotifyAIApproved, s.ShipperID, "compliance review passed"))
	return nil
}

func applyBrokerApprove(t *Transition) error {
	s := t.Shipment
	if t.From != StatusBrokerReview {
		return reject(t.From, EventBrokerApprove, "shipment is not under broker review")
	}
	if s.AssignedBrokerID == nil {
		return reject(t.From, EventBrokerApprove, "no broker assigned")
	}
	if s.AIApproval != ApprovalApproved {
		return reject(t.From, EventBrokerApprove, "compliance review has not approved the shipment")
	}
	s.BrokerApproval = ApprovalApproved
	t.To = StatusApproved
	t.Path = []Status{StatusApproved}
	if s.FullyApproved() && s.ClearanceToken == nil {
		t.Intents = append(t.Intents, Intent{Kind: IntentIssueToken})
	}
	t.Intents = append(t.Intents, notify(NotifyApproved, s.ShipperID, "broker approved the shipment"))
	return nil
}

func applyBrokerDeny(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From != StatusBrokerReview && t.From != StatusDocumentsRequested {
		return reject(t.From, ev.Kind, "shipment is not under broker review")
	}
	reason := strings.TrimSpace(ev.Reason)
	if reason == "" {
		return reject(t.From, ev.Kind, "denial reason is required")
	}
	s.BrokerApproval = ApprovalRejected
	s.DenialReason = reason
	t.To = StatusDenied
	t.Path = []Status{StatusDenied}
	t.Intents = []Intent{notify(NotifyDenied, s.ShipperID, reason)}
	return nil
}

func applyRequestDocuments(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From != StatusBrokerReview && t.From != StatusDocumentsRequested {
		return reject(t.From, ev.Kind, "shipment is not under broker review")
	}
	names := NormalizeDocumentNames(ev.Documents)
	if len(names) == 0 {
		return reject(t.From, ev.Kind, "at least one document name is required")
	}
	s.BrokerApproval = ApprovalDocumentsRequested
	s.RequestedDocuments = NormalizeDocumentNames(append(s.RequestedDocuments, names...))
	t.To = StatusDocumentsRequested
	t.Path = []Status{StatusDocumentsRequested}
	t.Intents = []Intent{
		{Kind: IntentRecordRequestedDocuments, Documents: names},
		notify(NotifyDocumentsRequested, s.ShipperID, "broker requested documents: "+strings.Join(names, ", ")),
	}
	return nil
}

func applyDocumentsSatisfied(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From != StatusDocumentsRequested {
		return reject(t.From, ev.Kind, "no documents were requested")
	}
	if !ev.DocumentsUploaded {
		return reject(t.From, ev.Kind, "requested documents are not all uploaded")
	}
	s.BrokerApproval = ApprovalPending
	s.RequestedDocuments = nil
	t.To = StatusBrokerReview
	t.Path = []Status{StatusBrokerReview}
	recipient := ""
	if s.AssignedBrokerID != nil {
		recipient = *s.AssignedBrokerID
	}
	t.Intents = []Intent{notify(NotifyDocumentsSatisfied, recipient, "requested documents uploaded")}
	return nil
}

func applyIssueToken(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From != StatusApproved {
		return reject(t.From, ev.Kind, "shipment is not approved")
	}
	if !s.FullyApproved() {
		return reject(t.From, ev.Kind, "both approvals are required")
	}
	if s.ClearanceToken == nil {
		token := strings.TrimSpace(ev.Token)
		if token == "" {
			return reject(t.From, ev.Kind, "token value is required")
		}
		at := ev.At
		s.ClearanceToken = &token
		s.TokenIssuedAt = &at
	}
	t.To = StatusTokenIssued
	t.Path = []Status{StatusTokenIssued}
	t.Intents = []Intent{notify(NotifyTokenIssued, s.ShipperID, "clearance token issued")}
	return nil
}

func applyCancel(t *Transition, ev Event) error {
	s := t.Shipment
	if t.From == StatusApproved {
		// approved is left within the same write that issues the token.
		return reject(t.From, ev.Kind, "clearance token issuance is pending")
	}
	t.To = StatusCancelled
	t.Path = []Status{StatusCancelled}
	msg := strings.TrimSpace(ev.Reason)
	if msg == "" {
		msg = "shipment cancelled"
	}
	t.Intents = []Intent{notify(NotifyCancelled, s.ShipperID, msg)}
	return nil
}

// NormalizeDocumentNames trims, drops blanks and removes case-insensitive duplicates.
func NormalizeDocumentNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// TokenInvariantHolds reports whether the token is set exactly when both approvals are.
func TokenInvariantHolds(s *Shipment) bool {
	return (s.ClearanceToken != nil) == s.FullyApproved()
}

func criticalRiskReason(result ClassificationResult) string {
	if len(result.Restrictions) == 0 {
		return "compliance risk is critical"
	}
	return "compliance risk is critical: " + strings.Join(result.Restrictions, "; ")
}

func notify(kind NotificationType, recipient, message string) Intent {
	return Intent{Kind: IntentNotify, Notification: kind, Recipient: recipient, Message: message}
}

func reject(from Status, event EventKind, reason string) error {
	return &TransitionError{From: from, Event: event, Reason: reason}
}

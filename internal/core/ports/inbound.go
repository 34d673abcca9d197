package ports

import (
	"context"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// ClearanceWorkflow is the inbound contract for shipment lifecycle operations.
type ClearanceWorkflow interface {
	CreateDraft(ctx context.Context, actor domain.Actor, shipment *domain.Shipment) (*domain.Shipment, error)
	Submit(ctx context.Context, actor domain.Actor, shipment *domain.Shipment) (*domain.Shipment, error)
	SubmitByID(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error)
	BrokerApprove(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error)
	BrokerDeny(ctx context.Context, actor domain.Actor, shipmentID, reason string) (*domain.Shipment, error)
	RequestDocuments(ctx context.Context, actor domain.Actor, shipmentID string, documents []string) (*domain.Shipment, error)
	DocumentsSatisfied(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error)
	MarkDocumentUploaded(ctx context.Context, actor domain.Actor, shipmentID, name string) (*domain.Shipment, error)
	IssueToken(ctx context.Context, actor domain.Actor, shipmentID string) (string, error)
	Cancel(ctx context.Context, actor domain.Actor, shipmentID, reason string) (*domain.Shipment, error)
	RetryAllocation(ctx context.Context, shipmentID string) (*domain.Shipment, error)
}

// ShipmentReader is the inbound read model for shipment state.
type ShipmentReader interface {
	GetShipment(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error)
}

// ComplianceAdvisor exposes classification helpers outside the lifecycle.
type ComplianceAdvisor interface {
	Analyze(ctx context.Context, input domain.ComplianceInput) domain.ClassificationResult
	SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) domain.HSSuggestionSet
	PredictDocuments(ctx context.Context, req domain.DocumentPredictionRequest) domain.DocumentPrediction
}

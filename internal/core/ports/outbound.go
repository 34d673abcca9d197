package ports

import (
	"context"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// ShipmentRepository persists shipment state. SaveShipment is a compare-and-swap on Version.
type ShipmentRepository interface {
	CreateShipment(ctx context.Context, shipment *domain.Shipment) error
	LoadShipment(ctx context.Context, id string) (*domain.Shipment, error)
	SaveShipment(ctx context.Context, shipment *domain.Shipment) error
	CountActiveAssignments(ctx context.Context, brokerID string) (int, error)
	ListUnassigned(ctx context.Context, limit int) ([]string, error)
	// ListStalledSubmissions returns shipments still awaiting their compliance verdict that were
	// last updated before updatedBefore.
	ListStalledSubmissions(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error)
}

// BrokerRepository reads broker profiles for allocation.
type BrokerRepository interface {
	LoadBrokers(ctx context.Context, filter domain.BrokerFilter) ([]domain.Broker, error)
}

// BrokerRegistry maintains broker profiles from the admin API.
type BrokerRegistry interface {
	UpsertBroker(ctx context.Context, broker domain.Broker) error
}

// ClassificationProvider is the external ML scoring service.
type ClassificationProvider interface {
	SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) ([]domain.HSSuggestion, error)
	PredictDocuments(ctx context.Context, req domain.DocumentPredictionRequest) (domain.DocumentPrediction, error)
}

// Notifier is the fire-and-forget notification/audit sink.
type Notifier interface {
	Notify(ctx context.Context, event domain.Notification) error
}

// DocumentStatus tracks requested documents per shipment.
type DocumentStatus interface {
	AllRequestedUploaded(ctx context.Context, shipmentID string) (bool, error)
	RecordRequested(ctx context.Context, shipmentID string, names []string) error
	MarkUploaded(ctx context.Context, shipmentID, name string) error
}

// ShipmentLocker serializes orchestrator calls per shipment id.
type ShipmentLocker interface {
	Lock(ctx context.Context, shipmentID string) (unlock func(), err error)
}

// AuditStore keeps the notification stream for later inspection.
type AuditStore interface {
	Append(ctx context.Context, event domain.Notification) error
}

// TokenIssuer mints clearance tokens.
type TokenIssuer interface {
	NewToken(shipment *domain.Shipment) string
}

// WorkflowObserver receives workflow measurements.
type WorkflowObserver interface {
	ObserveTransition(event domain.EventKind, from, to domain.Status)
	ObserveRejection(event domain.EventKind, kind string)
	ObserveAllocation(outcome string)
	ObserveClassification(provenance domain.Provenance, risk domain.RiskLevel)
	ObserveGatewayCall(operation, outcome string, duration time.Duration)
}

// AuditReader lists recorded notifications for a shipment, oldest first.
type AuditReader interface {
	ListEvents(ctx context.Context, shipmentID string, limit int) ([]domain.Notification, error)
}

package domain

import "time"

type NotificationType string

const (
	NotifySubmitted          NotificationType = "shipment.submitted"
	NotifyAIApproved         NotificationType = "shipment.ai_approved"
	NotifyBrokerAssigned     NotificationType = "shipment.broker_assigned"
	NotifyBrokerUnassigned   NotificationType = "shipment.broker_unassigned"
	NotifyDocumentsRequested NotificationType = "shipment.documents_requested"
	NotifyDocumentsSatisfied NotificationType = "shipment.documents_satisfied"
	NotifyApproved           NotificationType = "shipment.approved"
	NotifyTokenIssued        NotificationType = "shipment.token_issued"
	NotifyDenied             NotificationType = "shipment.denied"
	NotifyCancelled          NotificationType = "shipment.cancelled"
)

// Notification is published to the audit/notification sink after a state write.
type Notification struct {
	ID         string            `json:"id"`
	Type       NotificationType  `json:"type"`
	ShipmentID string            `json:"shipment_id"`
	Recipient  string            `json:"recipient,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	From       Status            `json:"from,omitempty"`
	To         Status            `json:"to,omitempty"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

package httpadapter

import (
	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

type lineItemRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	HSCode      string  `json:"hs_code"`
	Quantity    int     `json:"quantity"`
	UnitValue   float64 `json:"unit_value"`
}

type shipmentRequest struct {
	ShipperID          string            `json:"shipper_id"`
	ReferenceID        string            `json:"reference_id"`
	Name               string            `json:"name"`
	OriginCountry      string            `json:"origin_country"`
	DestinationCountry string            `json:"destination_country"`
	Mode               string            `json:"mode"`
	DeclaredValue      float64           `json:"declared_value"`
	Currency           string            `json:"currency"`
	LineItems          []lineItemRequest `json:"line_items"`
	Submit             bool              `json:"submit"`
}

func (req shipmentRequest) toDomain() *domain.Shipment {
	items := make([]domain.LineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, domain.LineItem{
			Name:        item.Name,
			Description: item.Description,
			Category:    item.Category,
			HSCode:      item.HSCode,
			Quantity:    item.Quantity,
			UnitValue:   item.UnitValue,
		})
	}
	return &domain.Shipment{
		ShipperID:          req.ShipperID,
		ReferenceID:        req.ReferenceID,
		Name:               req.Name,
		OriginCountry:      req.OriginCountry,
		DestinationCountry: req.DestinationCountry,
		Mode:               req.Mode,
		DeclaredValue:      req.DeclaredValue,
		Currency:           req.Currency,
		LineItems:          items,
	}
}

type shipmentResponse struct {
	*domain.Shipment
	BrokerAssigned bool `json:"broker_assigned"`
}

func newShipmentResponse(s *domain.Shipment) shipmentResponse {
	return shipmentResponse{Shipment: s, BrokerAssigned: s.AssignedBrokerID != nil}
}

// awaitingBroker reports a shipment that passed review but has no broker yet.
func awaitingBroker(s *domain.Shipment) bool {
	return s.Status == domain.StatusBrokerReview && s.AssignedBrokerID == nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type documentsRequest struct {
	Documents []string `json:"documents"`
}

type tokenResponse struct {
	ShipmentID     string `json:"shipment_id"`
	ClearanceToken string `json:"clearance_token"`
}

type eventsResponse struct {
	ShipmentID string                `json:"shipment_id"`
	Events     []domain.Notification `json:"events"`
}

type brokerRequest struct {
	Name                   string   `json:"name"`
	Available              bool     `json:"available"`
	MaxConcurrentShipments int      `json:"max_concurrent_shipments"`
	OriginCountries        []string `json:"origin_countries"`
	DestinationCountries   []string `json:"destination_countries"`
	HSCategories           []string `json:"hs_categories"`
}

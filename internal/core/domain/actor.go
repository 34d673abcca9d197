package domain

import "strings"

type Role string

const (
	RoleShipper Role = "shipper"
	RoleBroker  Role = "broker"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleShipper, RoleBroker, RoleAdmin, RoleSystem:
		return r, true
	default:
		return "", false
	}
}

// Actor is the authenticated caller, resolved upstream.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) Owns(s *Shipment) bool {
	return a.Role == RoleShipper && a.ID != "" && a.ID == s.ShipperID
}

func (a Actor) IsAssignedBroker(s *Shipment) bool {
	return a.Role == RoleBroker && a.ID != "" && s.IsAssignedTo(a.ID)
}

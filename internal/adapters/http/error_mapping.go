package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrShipmentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition), domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrNoEligibleBroker):
		return http.StatusAccepted
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrClassificationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	var transition *domain.TransitionError
	switch {
	case errors.As(err, &transition):
		return "invalid_transition"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "unauthorized"
	case domain.IsKind(err, domain.ErrShipmentNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrNoEligibleBroker):
		return "no_eligible_broker"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrClassificationUnavailable):
		return "temporary"
	default:
		return "internal"
	}
}

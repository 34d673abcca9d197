package httpadapter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// Identity is resolved by the upstream auth gateway and forwarded in these headers.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

func actorFromRequest(r *http.Request) (domain.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(actorIDHeader))
	rawRole := r.Header.Get(actorRoleHeader)
	if id == "" || strings.TrimSpace(rawRole) == "" {
		return domain.Actor{}, domain.WrapError(domain.ErrUnauthorized, "resolve actor",
			errors.New("X-Actor-Id and X-Actor-Role headers are required"))
	}
	role, ok := domain.ParseRole(rawRole)
	if !ok {
		return domain.Actor{}, domain.WrapError(domain.ErrUnauthorized, "resolve actor",
			errors.New("unknown actor role"))
	}
	return domain.Actor{ID: id, Role: role}, nil
}

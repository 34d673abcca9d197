package usecase

import (
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// NopObserver discards workflow measurements.
type NopObserver struct{}

func (NopObserver) ObserveTransition(domain.EventKind, domain.Status, domain.Status) {}
func (NopObserver) ObserveRejection(domain.EventKind, string)                        {}
func (NopObserver) ObserveAllocation(string)                                         {}
func (NopObserver) ObserveClassification(domain.Provenance, domain.RiskLevel)        {}
func (NopObserver) ObserveGatewayCall(string, string, time.Duration)                 {}

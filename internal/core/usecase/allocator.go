package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
)

type AllocatorOptions struct {
	// StrictHSCategories makes brokers without configured categories reject categorized shipments.
	StrictHSCategories bool
}

// BrokerAllocator picks the least-loaded eligible broker for a shipment.
type BrokerAllocator struct {
	brokers   ports.BrokerRepository
	shipments ports.ShipmentRepository
	options   AllocatorOptions
}

func NewBrokerAllocator(brokers ports.BrokerRepository, shipments ports.ShipmentRepository, options AllocatorOptions) *BrokerAllocator {
	return &BrokerAllocator{brokers: brokers, shipments: shipments, options: options}
}

type brokerCandidate struct {
	broker domain.Broker
	load   int
}

// Assign records the chosen broker on shipment and returns it. The caller persists the shipment.
func (a *BrokerAllocator) Assign(ctx context.Context, shipment *domain.Shipment) (domain.Broker, error) {
	if shipment == nil {
		return domain.Broker{}, domain.WrapError(domain.ErrInvalidInput, "assign broker", fmt.Errorf("shipment is nil"))
	}

	candidates, err := a.eligible(ctx, shipment)
	if err != nil {
		return domain.Broker{}, err
	}
	if len(candidates) == 0 {
		return domain.Broker{}, domain.WrapError(domain.ErrNoEligibleBroker, "assign broker",
			fmt.Errorf("shipment %s (%s -> %s)", shipment.ID, shipment.OriginCountry, shipment.DestinationCountry))
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.load < best.load || (c.load == best.load && lessBrokerID(c.broker.ID, best.broker.ID)) {
			best = c
		}
	}

	id := best.broker.ID
	shipment.AssignedBrokerID = &id
	return best.broker, nil
}

// eligible lists available brokers that accept the shipment's route and categories and still
// have capacity, paired with their active load.
func (a *BrokerAllocator) eligible(ctx context.Context, shipment *domain.Shipment) ([]brokerCandidate, error) {
	brokers, err := a.brokers.LoadBrokers(ctx, domain.BrokerFilter{AvailableOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load brokers: %w", err)
	}

	categories := shipment.HSCategories()
	out := make([]brokerCandidate, 0, len(brokers))
	for _, b := range brokers {
		if !b.Available ||
			!b.AcceptsOrigin(shipment.OriginCountry) ||
			!b.AcceptsDestination(shipment.DestinationCountry) ||
			!b.AcceptsHSCategories(categories, a.options.StrictHSCategories) {
			continue
		}
		load, err := a.shipments.CountActiveAssignments(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("count active assignments for broker %s: %w", b.ID, err)
		}
		if !b.HasCapacity(load) {
			continue
		}
		out = append(out, brokerCandidate{broker: b, load: load})
	}
	return out, nil
}

// lessBrokerID orders numerically when both ids are integers, lexically otherwise.
func lessBrokerID(a, b string) bool {
	ai, errA := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, errB := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func allocationShipment() *domain.Shipment {
	return &domain.Shipment{
		ID:                 "s-1",
		OriginCountry:      "CN",
		DestinationCountry: "US",
		LineItems:          []domain.LineItem{{Name: "laptop", HSCode: "847130", Quantity: 1}},
		Status:             domain.StatusBrokerReview,
	}
}

func TestAllocatorPicksMinimumLoad(t *testing.T) {
	brokers := &brokerRepoFake{brokers: []domain.Broker{
		{ID: "10", Available: true},
		{ID: "20", Available: true},
		{ID: "30", Available: true},
	}}
	loads := &loadFake{loads: map[string]int{"10": 3, "20": 1, "30": 1}}
	a := NewBrokerAllocator(brokers, loads, AllocatorOptions{})

	s := allocationShipment()
	got, err := a.Assign(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "20" {
		t.Fatalf("expected broker 20, got %s", got.ID)
	}
	if s.AssignedBrokerID == nil || *s.AssignedBrokerID != "20" {
		t.Fatalf("expected selection to be recorded on shipment")
	}
	if len(brokers.filters) != 1 || !brokers.filters[0].AvailableOnly {
		t.Fatalf("expected available-only filter, got %+v", brokers.filters)
	}
}

func TestAllocatorTieBreaksByNumericID(t *testing.T) {
	brokers := &brokerRepoFake{brokers: []domain.Broker{
		{ID: "100", Available: true},
		{ID: "9", Available: true},
		{ID: "20", Available: true},
	}}
	loads := &loadFake{loads: map[string]int{}}
	a := NewBrokerAllocator(brokers, loads, AllocatorOptions{})

	got, err := a.Assign(context.Background(), allocationShipment())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "9" {
		t.Fatalf("expected numeric tie-break to pick 9, got %s", got.ID)
	}
}

func TestAllocatorFiltersRouteCategoryAndCapacity(t *testing.T) {
	brokers := &brokerRepoFake{brokers: []domain.Broker{
		{ID: "1", Available: false},
		{ID: "2", Available: true, OriginCountries: []string{"DE"}},
		{ID: "3", Available: true, DestinationCountries: []string{"CA"}},
		{ID: "4", Available: true, HSCategories: []string{"61"}},
		{ID: "5", Available: true, MaxConcurrentShipments: 2},
		{ID: "6", Available: true, OriginCountries: []string{"cn"}, HSCategories: []string{"84"}},
	}}
	loads := &loadFake{loads: map[string]int{"5": 2, "6": 7}}
	a := NewBrokerAllocator(brokers, loads, AllocatorOptions{})

	got, err := a.Assign(context.Background(), allocationShipment())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "6" {
		t.Fatalf("expected only broker 6 to be eligible, got %s", got.ID)
	}
}

func TestAllocatorStrictHSCategories(t *testing.T) {
	brokers := &brokerRepoFake{brokers: []domain.Broker{{ID: "1", Available: true}}}
	loads := &loadFake{loads: map[string]int{}}

	lenient := NewBrokerAllocator(brokers, loads, AllocatorOptions{})
	if _, err := lenient.Assign(context.Background(), allocationShipment()); err != nil {
		t.Fatalf("expected broker without categories to accept in lenient mode: %v", err)
	}

	strict := NewBrokerAllocator(brokers, loads, AllocatorOptions{StrictHSCategories: true})
	_, err := strict.Assign(context.Background(), allocationShipment())
	if !domain.IsKind(err, domain.ErrNoEligibleBroker) {
		t.Fatalf("expected no eligible broker in strict mode, got %v", err)
	}
}

func TestAllocatorNoEligibleLeavesShipmentUnassigned(t *testing.T) {
	brokers := &brokerRepoFake{brokers: []domain.Broker{{ID: "1", Available: true, OriginCountries: []string{"FR"}}}}
	a := NewBrokerAllocator(brokers, &loadFake{}, AllocatorOptions{})

	s := allocationShipment()
	_, err := a.Assign(context.Background(), s)
	if !domain.IsKind(err, domain.ErrNoEligibleBroker) {
		t.Fatalf("expected no eligible broker, got %v", err)
	}
	if s.AssignedBrokerID != nil {
		t.Fatalf("expected shipment to stay unassigned")
	}
}

func TestAllocatorPropagatesRepositoryErrors(t *testing.T) {
	brokers := &brokerRepoFake{err: errors.New("db down")}
	a := NewBrokerAllocator(brokers, &loadFake{}, AllocatorOptions{})

	_, err := a.Assign(context.Background(), allocationShipment())
	if err == nil || domain.IsKind(err, domain.ErrNoEligibleBroker) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

var (
	propertyCountries  = []string{"CN", "US", "DE"}
	propertyCategories = []string{"84", "61", "85"}
)

// pick returns the values whose bit is set in mask.
func pick(values []string, mask int) []string {
	var out []string
	for i, v := range values {
		if mask&(1<<i) != 0 {
			out = append(out, v)
		}
	}
	return out
}

func TestAllocatorNeverSelectsIneligibleBrokerProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("selected broker passes every filter", prop.ForAll(
		func(originMask, destMask, hsMask, shipmentHSMask, origin, dest int, strict bool) bool {
			broker := domain.Broker{
				ID:                   "1",
				Available:            true,
				OriginCountries:      pick(propertyCountries, originMask),
				DestinationCountries: pick(propertyCountries, destMask),
				HSCategories:         pick(propertyCategories, hsMask),
			}
			shipment := &domain.Shipment{
				ID:                 "s",
				OriginCountry:      propertyCountries[origin],
				DestinationCountry: propertyCountries[dest],
			}
			for _, c := range pick(propertyCategories, shipmentHSMask) {
				shipment.LineItems = append(shipment.LineItems, domain.LineItem{HSCode: c + "0000"})
			}

			a := NewBrokerAllocator(&brokerRepoFake{brokers: []domain.Broker{broker}}, &loadFake{}, AllocatorOptions{StrictHSCategories: strict})
			_, err := a.Assign(context.Background(), shipment)

			eligible := broker.AcceptsOrigin(shipment.OriginCountry) &&
				broker.AcceptsDestination(shipment.DestinationCountry) &&
				broker.AcceptsHSCategories(shipment.HSCategories(), strict)
			if !eligible {
				return domain.IsKind(err, domain.ErrNoEligibleBroker) && shipment.AssignedBrokerID == nil
			}
			if err != nil || shipment.AssignedBrokerID == nil {
				return false
			}

			// An empty allow-list accepts everything; a non-empty one must contain the value.
			if len(broker.OriginCountries) > 0 && originMask&(1<<origin) == 0 {
				return false
			}
			if len(broker.DestinationCountries) > 0 && destMask&(1<<dest) == 0 {
				return false
			}
			if shipmentHSMask != 0 && len(broker.HSCategories) > 0 && hsMask&shipmentHSMask == 0 {
				return false
			}
			return !(strict && shipmentHSMask != 0 && len(broker.HSCategories) == 0)
		},
		gen.IntRange(0, 7),
		gen.IntRange(0, 7),
		gen.IntRange(0, 7),
		gen.IntRange(0, 7),
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

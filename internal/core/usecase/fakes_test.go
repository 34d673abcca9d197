package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

type shipmentStoreFake struct {
	mu        sync.Mutex
	shipments map[string]*domain.Shipment
	saves     int
	saveErr   error
	countErr  error
	// failSaveAt fails only the n-th save attempt with saveErr when set.
	failSaveAt int
	attempts   int
}

func newShipmentStoreFake(shipments ...*domain.Shipment) *shipmentStoreFake {
	f := &shipmentStoreFake{shipments: make(map[string]*domain.Shipment)}
	for _, s := range shipments {
		f.shipments[s.ID] = s.Clone()
	}
	return f
}

func (f *shipmentStoreFake) CreateShipment(_ context.Context, s *domain.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.shipments[s.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create shipment", fmt.Errorf("id %s exists", s.ID))
	}
	f.shipments[s.ID] = s.Clone()
	return nil
}

func (f *shipmentStoreFake) LoadShipment(_ context.Context, id string) (*domain.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrShipmentNotFound, "load shipment", fmt.Errorf("id %s", id))
	}
	return s.Clone(), nil
}

func (f *shipmentStoreFake) SaveShipment(_ context.Context, s *domain.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.saveErr != nil && (f.failSaveAt == 0 || f.failSaveAt == f.attempts) {
		return f.saveErr
	}
	stored, ok := f.shipments[s.ID]
	if !ok {
		return domain.WrapError(domain.ErrShipmentNotFound, "save shipment", fmt.Errorf("id %s", s.ID))
	}
	if stored.Version != s.Version {
		return domain.WrapError(domain.ErrConflict, "save shipment", fmt.Errorf("version %d != %d", s.Version, stored.Version))
	}
	s.Version++
	f.shipments[s.ID] = s.Clone()
	f.saves++
	return nil
}

func (f *shipmentStoreFake) CountActiveAssignments(_ context.Context, brokerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, s := range f.shipments {
		if s.IsAssignedTo(brokerID) && !s.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (f *shipmentStoreFake) ListUnassigned(_ context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.shipments {
		if s.Status == domain.StatusBrokerReview && s.AssignedBrokerID == nil {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *shipmentStoreFake) ListStalledSubmissions(_ context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.shipments {
		stalled := s.Status == domain.StatusSubmitted || s.Status == domain.StatusAIReview
		if stalled && s.UpdatedAt.Before(updatedBefore) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *shipmentStoreFake) get(id string) *domain.Shipment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shipments[id].Clone()
}

// loadFake reports a fixed load per broker id.
type loadFake struct {
	*shipmentStoreFake
	loads map[string]int
}

func (f *loadFake) CountActiveAssignments(_ context.Context, brokerID string) (int, error) {
	return f.loads[brokerID], nil
}

type brokerRepoFake struct {
	brokers []domain.Broker
	err     error
	filters []domain.BrokerFilter
}

func (f *brokerRepoFake) LoadBrokers(_ context.Context, filter domain.BrokerFilter) ([]domain.Broker, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Broker, 0, len(f.brokers))
	for _, b := range f.brokers {
		if filter.AvailableOnly && !b.Available {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

type documentStatusFake struct {
	mu        sync.Mutex
	requested map[string][]string
	uploaded  map[string]map[string]bool
}

func newDocumentStatusFake() *documentStatusFake {
	return &documentStatusFake{
		requested: make(map[string][]string),
		uploaded:  make(map[string]map[string]bool),
	}
}

func (f *documentStatusFake) AllRequestedUploaded(_ context.Context, shipmentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.requested[shipmentID] {
		if !f.uploaded[shipmentID][strings.ToLower(name)] {
			return false, nil
		}
	}
	return true, nil
}

func (f *documentStatusFake) RecordRequested(_ context.Context, shipmentID string, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested[shipmentID] = append(f.requested[shipmentID], names...)
	return nil
}

func (f *documentStatusFake) MarkUploaded(_ context.Context, shipmentID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded[shipmentID] == nil {
		f.uploaded[shipmentID] = make(map[string]bool)
	}
	f.uploaded[shipmentID][strings.ToLower(name)] = true
	return nil
}

type lockerFake struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int
}

func (f *lockerFake) Lock(_ context.Context, id string) (func(), error) {
	f.mu.Lock()
	if f.locks == nil {
		f.locks = make(map[string]*sync.Mutex)
	}
	m, ok := f.locks[id]
	if !ok {
		m = &sync.Mutex{}
		f.locks[id] = m
	}
	f.calls++
	f.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type notifierFake struct {
	mu     sync.Mutex
	events []domain.Notification
	err    error
}

func (f *notifierFake) Notify(_ context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, n)
	return f.err
}

func (f *notifierFake) types() []domain.NotificationType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NotificationType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type providerFake struct {
	suggestions []domain.HSSuggestion
	prediction  domain.DocumentPrediction
	err         error
	delay       time.Duration
	lastSuggest domain.HSSuggestionRequest
	calls       int
}

func (f *providerFake) SuggestHS(ctx context.Context, req domain.HSSuggestionRequest) ([]domain.HSSuggestion, error) {
	f.calls++
	f.lastSuggest = req
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.suggestions, f.err
}

func (f *providerFake) PredictDocuments(ctx context.Context, _ domain.DocumentPredictionRequest) (domain.DocumentPrediction, error) {
	f.calls++
	if err := f.wait(ctx); err != nil {
		return domain.DocumentPrediction{}, err
	}
	return f.prediction, f.err
}

func (f *providerFake) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type countingTokens struct {
	mu sync.Mutex
	n  int
}

func (c *countingTokens) NewToken(*domain.Shipment) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("PCT-%d", c.n)
}

type observerFake struct {
	NopObserver
	mu          sync.Mutex
	rejections  []string
	allocations []string
	gateway     []string
}

func (f *observerFake) ObserveRejection(event domain.EventKind, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, string(event)+":"+kind)
}

func (f *observerFake) ObserveAllocation(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocations = append(f.allocations, outcome)
}

func (f *observerFake) ObserveGatewayCall(operation, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gateway = append(f.gateway, operation+":"+outcome)
}

func strPtr(s string) *string { return &s }

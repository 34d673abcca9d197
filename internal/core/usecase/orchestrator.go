package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
)

const DefaultNotifyTimeout = 5 * time.Second

// errNoTransition short-circuits a locked step that has nothing to apply.
var errNoTransition = errors.New("no transition")

type OrchestratorDeps struct {
	Shipments     ports.ShipmentRepository
	Documents     ports.DocumentStatus
	Locker        ports.ShipmentLocker
	Evaluator     *ComplianceEvaluator
	Gateway       *ClassificationGateway
	Allocator     *BrokerAllocator
	Notifier      ports.Notifier
	Tokens        ports.TokenIssuer
	Observer      ports.WorkflowObserver
	Logger        *slog.Logger
	NotifyTimeout time.Duration
}

// Orchestrator drives shipments through the clearance lifecycle. Every entry point holds the
// per-shipment lock for one read-modify-write; notifications are published after the lock is
// released.
type Orchestrator struct {
	shipments     ports.ShipmentRepository
	documents     ports.DocumentStatus
	locker        ports.ShipmentLocker
	evaluator     *ComplianceEvaluator
	gateway       *ClassificationGateway
	allocator     *BrokerAllocator
	notifier      ports.Notifier
	tokens        ports.TokenIssuer
	observer      ports.WorkflowObserver
	logger        *slog.Logger
	notifyTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		shipments:     deps.Shipments,
		documents:     deps.Documents,
		locker:        deps.Locker,
		evaluator:     deps.Evaluator,
		gateway:       deps.Gateway,
		allocator:     deps.Allocator,
		notifier:      deps.Notifier,
		tokens:        deps.Tokens,
		observer:      deps.Observer,
		logger:        deps.Logger,
		notifyTimeout: deps.NotifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.evaluator == nil {
		o.evaluator = NewComplianceEvaluator(nil)
	}
	if o.gateway == nil {
		o.gateway = NewClassificationGateway(nil, GatewayOptions{Observer: o.observer, Logger: o.logger})
	}
	if o.tokens == nil {
		o.tokens = UUIDTokenIssuer{}
	}
	if o.notifier == nil {
		o.notifier = discardNotifier{}
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = DefaultNotifyTimeout
	}
	return o
}

// UUIDTokenIssuer mints opaque clearance tokens.
type UUIDTokenIssuer struct{}

func (UUIDTokenIssuer) NewToken(*domain.Shipment) string {
	return "PCT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, domain.Notification) error { return nil }

func (o *Orchestrator) CreateDraft(ctx context.Context, actor domain.Actor, in *domain.Shipment) (*domain.Shipment, error) {
	if in == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create draft", errors.New("shipment is required"))
	}

	shipperID := strings.TrimSpace(in.ShipperID)
	switch {
	case actor.Role == domain.RoleShipper && actor.ID != "":
		if shipperID != "" && shipperID != actor.ID {
			return nil, domain.WrapError(domain.ErrUnauthorized, "create draft",
				fmt.Errorf("shipper %s cannot create shipments for %s", actor.ID, shipperID))
		}
		shipperID = actor.ID
	case actor.IsAdmin():
		if shipperID == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "create draft", errors.New("shipper_id is required"))
		}
	default:
		return nil, domain.WrapError(domain.ErrUnauthorized, "create draft",
			fmt.Errorf("role %q cannot create shipments", actor.Role))
	}

	origin := strings.ToUpper(strings.TrimSpace(in.OriginCountry))
	destination := strings.ToUpper(strings.TrimSpace(in.DestinationCountry))
	if origin == "" || destination == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create draft", errors.New("origin and destination countries are required"))
	}

	now := o.now()
	id := uuid.NewString()
	draft := in.Clone()
	draft.ID = id
	if strings.TrimSpace(draft.ReferenceID) == "" {
		draft.ReferenceID = "SHP-" + strings.ToUpper(id[:8])
	}
	draft.ShipperID = shipperID
	draft.OriginCountry = origin
	draft.DestinationCountry = destination
	draft.Status = domain.StatusDraft
	draft.AIApproval = domain.ApprovalNotStarted
	draft.BrokerApproval = domain.ApprovalNotStarted
	draft.AssignedBrokerID = nil
	draft.ClearanceToken = nil
	draft.TokenIssuedAt = nil
	draft.Compliance = nil
	draft.RequestedDocuments = nil
	draft.DenialReason = ""
	draft.Version = 0
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := o.shipments.CreateShipment(ctx, draft); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}
	o.logger.Info("shipment_created", "shipment_id", draft.ID, "shipper_id", draft.ShipperID)
	return draft, nil
}

// Submit creates a draft when the shipment has no id yet, then submits it.
func (o *Orchestrator) Submit(ctx context.Context, actor domain.Actor, in *domain.Shipment) (*domain.Shipment, error) {
	if in == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit shipment", errors.New("shipment is required"))
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		draft, err := o.CreateDraft(ctx, actor, in)
		if err != nil {
			return nil, err
		}
		id = draft.ID
	}
	return o.SubmitByID(ctx, actor, id)
}

// SubmitByID moves a draft to submitted, classifies it without holding the lock, then applies
// the verdict and allocates a broker under the lock. A shipment left in broker_review without a
// broker is picked up by RetryAllocation. Calling it again on a shipment still in submitted or
// ai_review re-runs classification.
func (o *Orchestrator) SubmitByID(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error) {
	submitted, err := o.execute(ctx, actor, shipmentID, domain.EventSubmit, authorizeShipper,
		func(context.Context, *domain.Shipment) (domain.Event, error) {
			return domain.Event{Kind: domain.EventSubmit, At: o.now()}, nil
		})
	if err != nil {
		return nil, err
	}
	o.logger.Info("shipment_submitted", "shipment_id", submitted.ID, "actor_id", actor.ID)
	return o.classify(ctx, submitted)
}

// ResumeSubmission finishes a submission whose verdict was never written. Only shipments in
// submitted or ai_review are accepted.
func (o *Orchestrator) ResumeSubmission(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	actor := domain.SystemActor()
	stalled, err := o.execute(ctx, actor, shipmentID, domain.EventSubmit, allowAny,
		func(_ context.Context, current *domain.Shipment) (domain.Event, error) {
			if !awaitingClassification(current.Status) {
				return domain.Event{}, &domain.TransitionError{
					From:   current.Status,
					Event:  domain.EventSubmit,
					Reason: "shipment is not awaiting classification",
				}
			}
			return domain.Event{Kind: domain.EventSubmit, At: o.now()}, nil
		})
	if err != nil {
		return nil, err
	}
	o.logger.Info("submission_resumed", "shipment_id", stalled.ID, "status", stalled.Status)
	return o.classify(ctx, stalled)
}

func (o *Orchestrator) classify(ctx context.Context, submitted *domain.Shipment) (*domain.Shipment, error) {
	shipmentID := submitted.ID

	result := o.evaluator.Evaluate(domain.ComplianceInput{
		Description:    submitted.Description(),
		DeclaredHSCode: submitted.DeclaredHSCode(),
		Category:       submitted.PrimaryCategory(),
	})
	o.observer.ObserveClassification(result.Provenance, result.RiskLevel)
	prediction := o.gateway.PredictDocuments(ctx, documentRequest(submitted, result))

	classified, err := o.execute(ctx, domain.SystemActor(), shipmentID, domain.EventClassificationComplete, allowAny,
		func(_ context.Context, current *domain.Shipment) (domain.Event, error) {
			if !awaitingClassification(current.Status) {
				o.logger.Info("classification_discarded", "shipment_id", current.ID, "status", current.Status)
				return domain.Event{}, errNoTransition
			}
			return domain.Event{
				Kind:              domain.EventClassificationComplete,
				Classification:    &result,
				RequiredDocuments: prediction.RequiredDocuments,
				At:                o.now(),
			}, nil
		})
	if err != nil {
		return nil, err
	}
	o.logger.Info("shipment_classified",
		"shipment_id", classified.ID,
		"status", classified.Status,
		"hs_code", result.HSCode,
		"risk_level", result.RiskLevel,
		"provenance", result.Provenance,
	)
	return classified, nil
}

func (o *Orchestrator) BrokerApprove(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error) {
	return o.execute(ctx, actor, shipmentID, domain.EventBrokerApprove, authorizeBroker,
		func(context.Context, *domain.Shipment) (domain.Event, error) {
			return domain.Event{Kind: domain.EventBrokerApprove, At: o.now()}, nil
		})
}

func (o *Orchestrator) BrokerDeny(ctx context.Context, actor domain.Actor, shipmentID, reason string) (*domain.Shipment, error) {
	return o.execute(ctx, actor, shipmentID, domain.EventBrokerDeny, authorizeBroker,
		func(context.Context, *domain.Shipment) (domain.Event, error) {
			return domain.Event{Kind: domain.EventBrokerDeny, Reason: reason, At: o.now()}, nil
		})
}

func (o *Orchestrator) RequestDocuments(ctx context.Context, actor domain.Actor, shipmentID string, documents []string) (*domain.Shipment, error) {
	return o.execute(ctx, actor, shipmentID, domain.EventRequestDocuments, authorizeBroker,
		func(context.Context, *domain.Shipment) (domain.Event, error) {
			return domain.Event{Kind: domain.EventRequestDocuments, Documents: documents, At: o.now()}, nil
		})
}

func (o *Orchestrator) DocumentsSatisfied(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error) {
	return o.execute(ctx, actor, shipmentID, domain.EventDocumentsSatisfied, authorizeParticipant,
		func(ctx context.Context, current *domain.Shipment) (domain.Event, error) {
			ev := domain.Event{Kind: domain.EventDocumentsSatisfied, At: o.now()}
			if current.Status != domain.StatusDocumentsRequested {
				return ev, nil
			}
			uploaded, err := o.documents.AllRequestedUploaded(ctx, current.ID)
			if err != nil {
				return domain.Event{}, fmt.Errorf("check requested documents: %w", err)
			}
			ev.DocumentsUploaded = uploaded
			return ev, nil
		})
}

// MarkDocumentUploaded records one uploaded document and signals DocumentsSatisfied once every
// requested document is in.
func (o *Orchestrator) MarkDocumentUploaded(ctx context.Context, actor domain.Actor, shipmentID, name string) (*domain.Shipment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "mark document uploaded", errors.New("document name is required"))
	}
	return o.execute(ctx, actor, shipmentID, domain.EventDocumentsSatisfied, authorizeShipper,
		func(ctx context.Context, current *domain.Shipment) (domain.Event, error) {
			if current.Status.IsTerminal() {
				return domain.Event{}, &domain.TransitionError{
					From:   current.Status,
					Event:  domain.EventDocumentsSatisfied,
					Reason: "shipment is in a terminal status",
				}
			}
			if err := o.documents.MarkUploaded(ctx, current.ID, name); err != nil {
				return domain.Event{}, fmt.Errorf("mark document uploaded: %w", err)
			}
			if current.Status != domain.StatusDocumentsRequested {
				return domain.Event{}, errNoTransition
			}
			uploaded, err := o.documents.AllRequestedUploaded(ctx, current.ID)
			if err != nil {
				return domain.Event{}, fmt.Errorf("check requested documents: %w", err)
			}
			if !uploaded {
				return domain.Event{}, errNoTransition
			}
			return domain.Event{Kind: domain.EventDocumentsSatisfied, DocumentsUploaded: true, At: o.now()}, nil
		})
}

// IssueToken returns the shipment's clearance token, minting it if the shipment is approved and
// has none. Repeated calls return the same token.
func (o *Orchestrator) IssueToken(ctx context.Context, actor domain.Actor, shipmentID string) (string, error) {
	shipment, err := o.execute(ctx, actor, shipmentID, domain.EventIssueToken, authorizeParticipant,
		func(_ context.Context, current *domain.Shipment) (domain.Event, error) {
			ev := domain.Event{Kind: domain.EventIssueToken, At: o.now()}
			if current.ClearanceToken == nil && current.Status == domain.StatusApproved {
				ev.Token = o.tokens.NewToken(current)
			}
			return ev, nil
		})
	if err != nil {
		if !domain.IsKind(err, domain.ErrConflict) {
			return "", err
		}
		// Another writer won the race; its token is the one to return.
		current, loadErr := o.load(ctx, shipmentID)
		if loadErr != nil || current.ClearanceToken == nil {
			return "", err
		}
		return *current.ClearanceToken, nil
	}
	if shipment.ClearanceToken == nil {
		return "", domain.WrapError(domain.ErrInvalidTransition, "issue token",
			fmt.Errorf("shipment %s has no clearance token", shipmentID))
	}
	return *shipment.ClearanceToken, nil
}

func (o *Orchestrator) Cancel(ctx context.Context, actor domain.Actor, shipmentID, reason string) (*domain.Shipment, error) {
	return o.execute(ctx, actor, shipmentID, domain.EventCancel, authorizeShipper,
		func(context.Context, *domain.Shipment) (domain.Event, error) {
			return domain.Event{Kind: domain.EventCancel, Reason: reason, At: o.now()}, nil
		})
}

// RetryAllocation assigns a broker to a shipment that reached broker_review without one.
// An already assigned shipment is returned unchanged.
func (o *Orchestrator) RetryAllocation(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	out, err := o.locked(ctx, shipmentID, func(current *domain.Shipment) (outcome, error) {
		if current.Status != domain.StatusBrokerReview {
			return outcome{}, domain.WrapError(domain.ErrInvalidTransition, "retry allocation",
				fmt.Errorf("shipment %s is %s", current.ID, current.Status))
		}
		if current.AssignedBrokerID != nil {
			return outcome{shipment: current}, nil
		}
		next := current.Clone()
		note, err := o.allocate(ctx, next)
		if err != nil {
			return outcome{}, err
		}
		next.UpdatedAt = o.now()
		if err := o.shipments.SaveShipment(ctx, next); err != nil {
			return outcome{}, fmt.Errorf("save shipment %s: %w", next.ID, err)
		}
		return outcome{shipment: next, notifications: []domain.Notification{note}}, nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, out.notifications)
	return out.shipment, nil
}

func (o *Orchestrator) GetShipment(ctx context.Context, actor domain.Actor, shipmentID string) (*domain.Shipment, error) {
	shipment, err := o.load(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParticipant(actor, shipment); err != nil {
		return nil, err
	}
	return shipment, nil
}

type outcome struct {
	shipment      *domain.Shipment
	notifications []domain.Notification
}

type authorizer func(domain.Actor, *domain.Shipment) error

type eventBuilder func(context.Context, *domain.Shipment) (domain.Event, error)

func (o *Orchestrator) execute(
	ctx context.Context,
	actor domain.Actor,
	shipmentID string,
	kind domain.EventKind,
	authorize authorizer,
	build eventBuilder,
) (*domain.Shipment, error) {
	out, err := o.locked(ctx, shipmentID, func(current *domain.Shipment) (outcome, error) {
		if err := authorize(actor, current); err != nil {
			o.observer.ObserveRejection(kind, "unauthorized")
			return outcome{}, err
		}
		ev, err := build(ctx, current)
		if errors.Is(err, errNoTransition) {
			return outcome{shipment: current}, nil
		}
		if err != nil {
			return outcome{}, err
		}
		return o.commit(ctx, actor, current, ev)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, out.notifications)
	return out.shipment, nil
}

func (o *Orchestrator) locked(ctx context.Context, shipmentID string, fn func(*domain.Shipment) (outcome, error)) (outcome, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return outcome{}, domain.WrapError(domain.ErrInvalidInput, "lock shipment", errors.New("shipment id is required"))
	}
	unlock, err := o.locker.Lock(ctx, shipmentID)
	if err != nil {
		return outcome{}, fmt.Errorf("lock shipment %s: %w", shipmentID, err)
	}
	defer unlock()

	current, err := o.load(ctx, shipmentID)
	if err != nil {
		return outcome{}, err
	}
	return fn(current)
}

// commit applies ev, carries out the resulting intents and saves the new state in one write.
func (o *Orchestrator) commit(ctx context.Context, actor domain.Actor, current *domain.Shipment, ev domain.Event) (outcome, error) {
	t, err := domain.Apply(current, ev)
	if err != nil {
		o.observer.ObserveRejection(ev.Kind, "invalid_transition")
		return outcome{}, err
	}

	dirty := !t.NoOp
	var notes []domain.Notification
	for i := 0; i < len(t.Intents); i++ {
		intent := t.Intents[i]
		switch intent.Kind {
		case domain.IntentIssueToken:
			token := o.tokens.NewToken(t.Shipment)
			next, err := domain.Apply(t.Shipment, domain.Event{Kind: domain.EventIssueToken, Token: token, At: o.now()})
			if err != nil {
				return outcome{}, err
			}
			t.Shipment = next.Shipment
			t.To = next.To
			t.Path = append(t.Path, next.Path...)
			t.Intents = append(t.Intents, next.Intents...)
			dirty = true
		case domain.IntentAssignBroker:
			note, err := o.allocate(ctx, t.Shipment)
			if err == nil || domain.IsKind(err, domain.ErrNoEligibleBroker) {
				notes = append(notes, note)
			}
		case domain.IntentRecordRequestedDocuments:
			if err := o.documents.RecordRequested(ctx, t.Shipment.ID, intent.Documents); err != nil {
				return outcome{}, fmt.Errorf("record requested documents: %w", err)
			}
		case domain.IntentNotify:
			notes = append(notes, o.notification(intent.Notification, t.Shipment, intent.Recipient, intent.Message, actor.ID, t.From, t.To))
		}
	}

	if !dirty {
		return outcome{shipment: t.Shipment, notifications: notes}, nil
	}
	if err := o.shipments.SaveShipment(ctx, t.Shipment); err != nil {
		return outcome{}, fmt.Errorf("save shipment %s: %w", t.Shipment.ID, err)
	}
	if t.From != t.To {
		o.observer.ObserveTransition(ev.Kind, t.From, t.To)
	}
	return outcome{shipment: t.Shipment, notifications: notes}, nil
}

// allocate assigns a broker on shipment. On ErrNoEligibleBroker the returned notification tells
// the shipper the assignment is pending.
func (o *Orchestrator) allocate(ctx context.Context, shipment *domain.Shipment) (domain.Notification, error) {
	if o.allocator == nil {
		o.observer.ObserveAllocation("error")
		return domain.Notification{}, domain.WrapError(domain.ErrTemporary, "assign broker", errors.New("allocator is not configured"))
	}
	broker, err := o.allocator.Assign(ctx, shipment)
	switch {
	case err == nil:
		o.observer.ObserveAllocation("assigned")
		o.logger.Info("broker_assigned", "shipment_id", shipment.ID, "broker_id", broker.ID)
		note := o.notification(domain.NotifyBrokerAssigned, shipment, broker.ID,
			"shipment assigned for broker review", domain.SystemActor().ID, shipment.Status, shipment.Status)
		note.Attributes = map[string]string{"broker_id": broker.ID}
		return note, nil
	case domain.IsKind(err, domain.ErrNoEligibleBroker):
		o.observer.ObserveAllocation("no_eligible_broker")
		o.logger.Warn("broker_unassigned", "shipment_id", shipment.ID, "error", err)
		return o.notification(domain.NotifyBrokerUnassigned, shipment, shipment.ShipperID,
			"no eligible broker is available yet; assignment will be retried", domain.SystemActor().ID,
			shipment.Status, shipment.Status), err
	default:
		o.observer.ObserveAllocation("error")
		o.logger.Error("broker_allocation_failed", "shipment_id", shipment.ID, "error", err)
		return domain.Notification{}, err
	}
}

func (o *Orchestrator) notification(
	kind domain.NotificationType,
	shipment *domain.Shipment,
	recipient, message, actorID string,
	from, to domain.Status,
) domain.Notification {
	return domain.Notification{
		ID:         uuid.NewString(),
		Type:       kind,
		ShipmentID: shipment.ID,
		Recipient:  recipient,
		ActorID:    actorID,
		From:       from,
		To:         to,
		Message:    message,
		OccurredAt: o.now(),
	}
}

func (o *Orchestrator) publish(ctx context.Context, notes []domain.Notification) {
	if len(notes) == 0 {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
	defer cancel()
	for _, note := range notes {
		if err := o.notifier.Notify(publishCtx, note); err != nil {
			o.logger.Warn("notification_failed",
				"type", note.Type,
				"shipment_id", note.ShipmentID,
				"error", err,
			)
		}
	}
}

func (o *Orchestrator) load(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	shipment, err := o.shipments.LoadShipment(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("load shipment %s: %w", shipmentID, err)
	}
	return shipment, nil
}

func awaitingClassification(status domain.Status) bool {
	return status == domain.StatusSubmitted || status == domain.StatusAIReview
}

func documentRequest(s *domain.Shipment, result domain.ClassificationResult) domain.DocumentPredictionRequest {
	code := result.HSCode
	if code == "" || code == domain.UnknownHSCode {
		code = s.DeclaredHSCode()
	}
	return domain.DocumentPredictionRequest{
		OriginCountry:      s.OriginCountry,
		DestinationCountry: s.DestinationCountry,
		HSCode:             code,
		ProductCategory:    s.PrimaryCategory(),
		ProductDescription: s.Description(),
		ModeOfTransport:    s.Mode,
		DeclaredValue:      s.DeclaredValue,
	}
}

func authorizeShipper(actor domain.Actor, s *domain.Shipment) error {
	if actor.IsAdmin() || actor.Owns(s) {
		return nil
	}
	return unauthorized(actor, s, "only the shipper or an admin")
}

func authorizeBroker(actor domain.Actor, s *domain.Shipment) error {
	if actor.IsAdmin() || actor.IsAssignedBroker(s) {
		return nil
	}
	return unauthorized(actor, s, "only the assigned broker or an admin")
}

func authorizeParticipant(actor domain.Actor, s *domain.Shipment) error {
	if actor.IsAdmin() || actor.Role == domain.RoleSystem || actor.Owns(s) || actor.IsAssignedBroker(s) {
		return nil
	}
	return unauthorized(actor, s, "only shipment participants")
}

func allowAny(domain.Actor, *domain.Shipment) error { return nil }

func unauthorized(actor domain.Actor, s *domain.Shipment, who string) error {
	return domain.WrapError(domain.ErrUnauthorized, "authorize",
		fmt.Errorf("%s may act on shipment %s; actor %q has role %q", who, s.ID, actor.ID, actor.Role))
}

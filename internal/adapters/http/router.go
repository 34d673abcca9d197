package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/core/ports"
	"github.com/kirillkom/customs-clearance/internal/observability/metrics"
)

const (
	serviceName         = "clearance-api"
	maxRequestBodyBytes = 1 << 20
	defaultMaxInFlight  = 256
	defaultInFlightWait = 2 * time.Second
)

type RouterDeps struct {
	Workflow ports.ClearanceWorkflow
	Reader   ports.ShipmentReader
	Advisor  ports.ComplianceAdvisor
	Brokers  ports.BrokerRegistry
	Events   ports.AuditReader
	Metrics  *metrics.HTTPServerMetrics
	Logger   *slog.Logger

	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	InFlightWait   time.Duration
}

type Router struct {
	workflow ports.ClearanceWorkflow
	reader   ports.ShipmentReader
	advisor  ports.ComplianceAdvisor
	brokers  ports.BrokerRegistry
	events   ports.AuditReader
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	inFlightWait   time.Duration
}

func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxInFlight := deps.MaxInFlight
	if maxInFlight == 0 {
		maxInFlight = defaultMaxInFlight
	}
	wait := deps.InFlightWait
	if wait <= 0 {
		wait = defaultInFlightWait
	}
	return &Router{
		workflow:       deps.Workflow,
		reader:         deps.Reader,
		advisor:        deps.Advisor,
		brokers:        deps.Brokers,
		events:         deps.Events,
		metrics:        deps.Metrics,
		logger:         logger,
		rateLimitRPS:   deps.RateLimitRPS,
		rateLimitBurst: deps.RateLimitBurst,
		maxInFlight:    maxInFlight,
		inFlightWait:   wait,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/shipments", rt.createShipment)
	mux.HandleFunc("GET /v1/shipments/{id}", rt.getShipment)
	mux.HandleFunc("GET /v1/shipments/{id}/events", rt.listEvents)
	mux.HandleFunc("POST /v1/shipments/{id}/submit", rt.submitShipment)
	mux.HandleFunc("POST /v1/shipments/{id}/approve", rt.approveShipment)
	mux.HandleFunc("POST /v1/shipments/{id}/deny", rt.denyShipment)
	mux.HandleFunc("POST /v1/shipments/{id}/request-documents", rt.requestDocuments)
	mux.HandleFunc("POST /v1/shipments/{id}/documents-satisfied", rt.documentsSatisfied)
	mux.HandleFunc("PUT /v1/shipments/{id}/documents/{name}", rt.uploadDocument)
	mux.HandleFunc("POST /v1/shipments/{id}/token", rt.issueToken)
	mux.HandleFunc("POST /v1/shipments/{id}/cancel", rt.cancelShipment)
	mux.HandleFunc("POST /v1/shipments/{id}/retry-allocation", rt.retryAllocation)

	mux.HandleFunc("PUT /v1/brokers/{id}", rt.upsertBroker)

	mux.HandleFunc("POST /v1/classification/analyze", rt.analyze)
	mux.HandleFunc("POST /v1/classification/hs/suggest", rt.suggestHS)
	mux.HandleFunc("POST /v1/classification/documents/predict", rt.predictDocuments)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.inFlightWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst, rt.onRateLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	var req shipmentRequest
	if !rt.decode(w, r, &req, false) {
		return
	}

	if !req.Submit {
		draft, err := rt.workflow.CreateDraft(r.Context(), actor, req.toDomain())
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newShipmentResponse(draft))
		return
	}

	shipment, err := rt.workflow.Submit(r.Context(), actor, req.toDomain())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeSubmitted(w, shipment)
}

func (rt *Router) getShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	shipment, err := rt.reader.GetShipment(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) listEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	if rt.events == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrTemporary, "list events", errors.New("audit log is not configured")))
		return
	}
	id := r.PathValue("id")
	if _, err := rt.reader.GetShipment(r.Context(), actor, id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	events, err := rt.events.ListEvents(r.Context(), id, 0)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{ShipmentID: id, Events: events})
}

func (rt *Router) submitShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	shipment, err := rt.workflow.SubmitByID(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeSubmitted(w, shipment)
}

// writeSubmitted answers 202 while the shipment waits for an eligible broker.
func (rt *Router) writeSubmitted(w http.ResponseWriter, shipment *domain.Shipment) {
	status := http.StatusOK
	if awaitingBroker(shipment) {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newShipmentResponse(shipment))
}

func (rt *Router) approveShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	shipment, err := rt.workflow.BrokerApprove(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) denyShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !rt.decode(w, r, &req, false) {
		return
	}
	shipment, err := rt.workflow.BrokerDeny(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) requestDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	var req documentsRequest
	if !rt.decode(w, r, &req, false) {
		return
	}
	shipment, err := rt.workflow.RequestDocuments(r.Context(), actor, r.PathValue("id"), req.Documents)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) documentsSatisfied(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	shipment, err := rt.workflow.DocumentsSatisfied(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	shipment, err := rt.workflow.MarkDocumentUploaded(r.Context(), actor, r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) issueToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	token, err := rt.workflow.IssueToken(r.Context(), actor, id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{ShipmentID: id, ClearanceToken: token})
}

func (rt *Router) cancelShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !rt.decode(w, r, &req, true) {
		return
	}
	shipment, err := rt.workflow.Cancel(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
}

func (rt *Router) retryAllocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem {
		rt.writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "retry allocation",
			fmt.Errorf("role %q cannot retry allocation", actor.Role)))
		return
	}
	id := r.PathValue("id")
	shipment, err := rt.workflow.RetryAllocation(r.Context(), id)
	if err != nil {
		if domain.IsKind(err, domain.ErrNoEligibleBroker) {
			writeJSON(w, http.StatusAccepted, map[string]any{"shipment_id": id, "broker_assigned": false})
			return
		}
		rt.writeError(w, r, err)
		return
	}
	rt.writeSubmitted(w, shipment)
}

func (rt *Router) upsertBroker(w http.ResponseWriter, r *http.Request) {
	actor, ok := rt.requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		rt.writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "upsert broker",
			fmt.Errorf("role %q cannot manage brokers", actor.Role)))
		return
	}
	var req brokerRequest
	if !rt.decode(w, r, &req, false) {
		return
	}
	broker := domain.Broker{
		ID:                     strings.TrimSpace(r.PathValue("id")),
		Name:                   req.Name,
		Available:              req.Available,
		MaxConcurrentShipments: req.MaxConcurrentShipments,
		OriginCountries:        req.OriginCountries,
		DestinationCountries:   req.DestinationCountries,
		HSCategories:           req.HSCategories,
	}
	if broker.MaxConcurrentShipments < 0 {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upsert broker",
			errors.New("max_concurrent_shipments must not be negative")))
		return
	}
	if err := rt.brokers.UpsertBroker(r.Context(), broker); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broker)
}

func (rt *Router) analyze(w http.ResponseWriter, r *http.Request) {
	var req domain.ComplianceInput
	if !rt.decode(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, rt.advisor.Analyze(r.Context(), req))
}

func (rt *Router) suggestHS(w http.ResponseWriter, r *http.Request) {
	var req domain.HSSuggestionRequest
	if !rt.decode(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.Description) == "" {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "suggest hs", errors.New("name or description is required")))
		return
	}
	writeJSON(w, http.StatusOK, rt.advisor.SuggestHS(r.Context(), req))
}

func (rt *Router) predictDocuments(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentPredictionRequest
	if !rt.decode(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, rt.advisor.PredictDocuments(r.Context(), req))
}

func (rt *Router) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, err := actorFromRequest(r)
	if err != nil {
		rt.writeError(w, r, err)
		return domain.Actor{}, false
	}
	return actor, true
}

// decode reads a JSON body into dst. allowEmpty accepts a missing body.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json")))
	return false
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	kind := errorKind(err)
	if rt.metrics != nil {
		rt.metrics.RecordErrorKind(serviceName, kind)
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

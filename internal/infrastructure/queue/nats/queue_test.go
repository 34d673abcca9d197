package nats

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func TestSubjectUsesPrefixAndType(t *testing.T) {
	if got := Subject("customs.", domain.NotifyTokenIssued); got != "customs.shipment.token_issued" {
		t.Fatalf("unexpected subject: %s", got)
	}
	if got := Subject("  ", domain.NotifyDenied); got != "clearance.shipment.denied" {
		t.Fatalf("expected default prefix, got %s", got)
	}
}

func TestEncodeDecodeNotification(t *testing.T) {
	event := domain.Notification{
		ID:         "n-1",
		Type:       domain.NotifyBrokerAssigned,
		ShipmentID: "s-1",
		Recipient:  "7",
		From:       domain.StatusBrokerReview,
		To:         domain.StatusBrokerReview,
		Attributes: map[string]string{"broker_id": "7"},
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg, err := encodeNotification("clearance", event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.Subject != "clearance.shipment.broker_assigned" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "n-1" {
		t.Fatalf("expected message id header, got %q", msg.Header.Get(nats.MsgIdHdr))
	}

	decoded, err := decodeNotification(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Recipient != "7" || decoded.Attributes["broker_id"] != "7" || !decoded.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected decoded notification: %+v", decoded)
	}
}

func TestEncodeRejectsUntypedNotification(t *testing.T) {
	if _, err := encodeNotification("clearance", domain.Notification{ShipmentID: "s-1"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDecodeRejectsIncompletePayload(t *testing.T) {
	if _, err := decodeNotification(&nats.Msg{Subject: "clearance.x", Data: []byte(`{"type":"shipment.denied"}`)}); err == nil {
		t.Fatalf("expected error for missing shipment id")
	}
	if _, err := decodeNotification(&nats.Msg{Subject: "clearance.x", Data: []byte(`nope`)}); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrConnectionClosed); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected closed connection to be temporary, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(gobreaker.ErrOpenState); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open circuit to be temporary, got %v", err)
	}
	permanent := errors.New("bad subject")
	if err := wrapTemporaryIfNeeded(permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error to pass through, got %v", err)
	}
	if wrapTemporaryIfNeeded(nil) != nil {
		t.Fatalf("expected nil")
	}
}

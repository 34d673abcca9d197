package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/resilience"
)

const (
	DefaultSubjectPrefix = "clearance"
	workerQueueGroup     = "clearance-workers"
)

// Bus publishes workflow notifications as JSON on "<prefix>.<notification type>" and lets the
// worker consume them.
type Bus struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	SubjectPrefix        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("customs-clearance"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		prefix:   normalizePrefix(options.SubjectPrefix),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Notify implements ports.Notifier.
func (b *Bus) Notify(ctx context.Context, event domain.Notification) error {
	msg, err := encodeNotification(b.prefix, event)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := b.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// Subscribe delivers every notification under the prefix to handler until ctx is done, then
// drains the subscription. Replicas share the work through a queue group.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, domain.Notification) error) error {
	sub, err := b.conn.QueueSubscribe(b.prefix+".>", workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeNotification(msg)
		if err != nil {
			b.logger.Error("notification_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Error("notification_handler_failed",
				"subject", msg.Subject,
				"notification_id", event.ID,
				"shipment_id", event.ShipmentID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func Subject(prefix string, kind domain.NotificationType) string {
	return normalizePrefix(prefix) + "." + string(kind)
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

func encodeNotification(prefix string, event domain.Notification) (*nats.Msg, error) {
	if event.Type == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode notification", errors.New("notification type is required"))
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	msg := nats.NewMsg(Subject(prefix, event.Type))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if event.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, event.ID)
	}
	return msg, nil
}

func decodeNotification(msg *nats.Msg) (domain.Notification, error) {
	var event domain.Notification
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return domain.Notification{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	if event.Type == "" || event.ShipmentID == "" {
		return domain.Notification{}, fmt.Errorf("notification on %s lacks type or shipment id", msg.Subject)
	}
	return event, nil
}

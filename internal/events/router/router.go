// Package router consumes library domain events from the message bus and turns the
// ones users care about into notifications.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/messaging"
	"notification-service/internal/common/metrics"
	"notification-service/internal/events/dispatch"
	"notification-service/internal/events/journal"
	"notification-service/internal/models"
	"notification-service/internal/notification/service"

	"github.com/sourcegraph/conc"
	"github.com/streadway/amqp"
)

type Notifier interface {
	Notify(ctx context.Context, tn service.TemplateNotification) (*models.Notification, error)
}

type Submitter interface {
	Submit(ctx context.Context, t dispatch.Task) error
}

type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

type RouterDependencies struct {
	Notifier   Notifier
	Dispatcher Submitter
	// Journal is optional.
	Journal Recorder
	Logger  logger.Logger
	// Dialer defaults to messaging.Dial.
	Dialer messaging.Dialer
}

type Router struct {
	cfg        Config
	notifier   Notifier
	dispatcher Submitter
	journal    Recorder
	dial       messaging.Dialer
	logger     logger.Logger
	errHandler *apperrors.ErrorHandler
	events     map[string]map[string]string

	mu        sync.Mutex
	conn      messaging.Connection
	ch        messaging.Channel
	connected atomic.Bool
	consumers conc.WaitGroup
}

func NewRouter(cfg Config, deps RouterDependencies) *Router {
	dial := deps.Dialer
	if dial == nil {
		dial = messaging.Dial
	}
	log := logger.ForComponent(deps.Logger, "event-router")

	return &Router{
		cfg:        cfg,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		journal:    deps.Journal,
		dial:       dial,
		logger:     log,
		errHandler: apperrors.NewErrorHandler(log),
		events:     eventIndex(Bindings()),
	}
}

// Connect dials the broker and declares the exchange, queues and bindings. On failure the
// router stays disconnected and a BUS_UNAVAILABLE error is returned; callers may keep running.
func (r *Router) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewBusUnavailableError(err)
	}

	conn, ch, err := r.open()
	if err != nil {
		r.connected.Store(false)
		busErr := apperrors.NewBusUnavailableError(err)
		r.logger.Error("failed to connect to message bus", map[string]interface{}{
			"exchange": r.cfg.Exchange,
			"error":    err,
		})
		return busErr
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	r.conn, r.ch = conn, ch
	r.mu.Unlock()
	r.connected.Store(true)

	go r.watch(closed)

	r.logger.Info("connected to message bus", map[string]interface{}{
		"exchange": r.cfg.Exchange,
		"prefetch": r.cfg.Prefetch,
	})
	return nil
}

func (r *Router) open() (messaging.Connection, messaging.Channel, error) {
	conn, err := r.dial(r.cfg.URI)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	if err := messaging.DeclareTopology(ch, r.cfg.Exchange, r.cfg.ExchangeType, Bindings()); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (r *Router) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	r.connected.Store(false)
	if ok && err != nil {
		r.logger.Warn("message bus connection closed", map[string]interface{}{
			"code":   err.Code,
			"reason": err.Reason,
		})
	}
}

// Connected reports whether the broker connection is currently up.
func (r *Router) Connected() bool {
	return r.connected.Load()
}

// StartConsuming starts one consumer goroutine per queue. They stop when ctx is done or
// the broker closes their delivery channel.
func (r *Router) StartConsuming(ctx context.Context) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	if ch == nil || !r.Connected() {
		return apperrors.NewBusUnavailableError(errors.New("not connected"))
	}

	for _, b := range Bindings() {
		queue := b.Queue
		deliveries, err := ch.Consume(queue, r.cfg.ConsumerTag+"-"+queue, false, false, false, false, nil)
		if err != nil {
			return apperrors.NewBusUnavailableError(fmt.Errorf("consume %s: %w", queue, err))
		}
		r.consumers.Go(func() { r.consume(ctx, queue, deliveries) })
	}

	r.logger.Info("consuming events", map[string]interface{}{"queues": len(Bindings())})
	return nil
}

func (r *Router) consume(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				r.logger.Warn("delivery channel closed", map[string]interface{}{"queue": queue})
				return
			}
			r.handleDelivery(ctx, queue, d)
		}
	}
}

// Disconnect closes the channel and connection and waits for the consumers to exit.
func (r *Router) Disconnect() {
	r.mu.Lock()
	ch, conn := r.ch, r.conn
	r.ch, r.conn = nil, nil
	r.mu.Unlock()

	r.connected.Store(false)
	if ch != nil {
		if err := ch.Close(); err != nil {
			r.logger.Warn("closing channel", map[string]interface{}{"error": err})
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("closing connection", map[string]interface{}{"error": err})
		}
	}

	r.consumers.Wait()
	r.logger.Info("disconnected from message bus", nil)
}

// handleDelivery settles exactly one delivery: ack when it was handled or deliberately
// ignored, otherwise nack with the requeue decision of the error handler.
func (r *Router) handleDelivery(ctx context.Context, queue string, d amqp.Delivery) {
	receivedAt := time.Now()
	eventType, ignored, err := r.process(ctx, queue, d)

	fields := map[string]interface{}{
		"queue":       queue,
		"routingKey":  d.RoutingKey,
		"eventType":   eventType,
		"deliveryTag": d.DeliveryTag,
	}

	outcome := journal.OutcomeAcked
	reason := ""
	if err != nil {
		requeue := r.errHandler.HandleDeliveryError(fields, err)
		reason = err.Error()
		if requeue {
			outcome = journal.OutcomeRequeued
			if nerr := d.Nack(false, true); nerr != nil {
				r.logger.Warn("nack failed", withError(fields, nerr))
			}
		} else {
			outcome = journal.OutcomeRejected
			if nerr := d.Reject(false); nerr != nil {
				r.logger.Warn("reject failed", withError(fields, nerr))
			}
		}
	} else {
		if ignored {
			outcome = journal.OutcomeIgnored
		}
		if aerr := d.Ack(false); aerr != nil {
			r.logger.Warn("ack failed", withError(fields, aerr))
		}
	}

	metrics.EventsConsumed.WithLabelValues(queue, r.metricEventType(queue, eventType), outcome).Inc()
	r.record(ctx, journal.Entry{
		Queue:      queue,
		RoutingKey: d.RoutingKey,
		EventType:  eventType,
		Outcome:    outcome,
		Reason:     reason,
		Body:       d.Body,
		ReceivedAt: receivedAt,
	})
}

// process decodes and routes a delivery. ignored is true for events that are acknowledged
// without creating anything. A panic is turned into an unrecoverable error.
func (r *Router) process(ctx context.Context, queue string, d amqp.Delivery) (eventType string, ignored bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.NewInternalError(fmt.Errorf("panic while handling delivery: %v", rec))
		}
	}()

	env, err := decodeEnvelope(d.Body)
	if err != nil {
		return "", false, err
	}
	eventType = env.EventType

	canonical, known := r.events[queue][eventType]
	if !known {
		r.logger.Warn("unexpected event type on queue", map[string]interface{}{
			"queue":     queue,
			"eventType": eventType,
		})
		return eventType, true, nil
	}

	rt, routed := queueRoutes[queue][canonical]
	if !routed {
		r.logger.Info("event received", map[string]interface{}{
			"queue":     queue,
			"eventType": canonical,
		})
		return canonical, true, nil
	}

	tn := rt.notification(env.Data)
	task := dispatch.Task{
		Name: "notify:" + canonical,
		Fields: map[string]interface{}{
			"eventType":   canonical,
			"template":    tn.Template,
			"recipientId": tn.RecipientID,
		},
		Run: func(ctx context.Context) error {
			_, err := r.notifier.Notify(ctx, tn)
			return err
		},
	}

	submitCtx := ctx
	if r.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, r.cfg.SubmitTimeout)
		defer cancel()
	}
	if err := r.dispatcher.Submit(submitCtx, task); err != nil {
		return canonical, false, apperrors.NewDispatchRejectedError(err)
	}

	r.logger.Info("event dispatched", map[string]interface{}{
		"queue":       queue,
		"eventType":   canonical,
		"recipientId": tn.RecipientID,
	})
	return canonical, false, nil
}

func (r *Router) record(ctx context.Context, entry journal.Entry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.Warn("journal write failed", map[string]interface{}{
			"queue":     entry.Queue,
			"eventType": entry.EventType,
			"error":     err,
		})
	}
}

// metricEventType keeps the label set bounded to bound event types.
func (r *Router) metricEventType(queue, eventType string) string {
	if _, ok := r.events[queue][eventType]; ok {
		return eventType
	}
	return "other"
}

func withError(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err
	return out
}

package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/messaging"
	"notification-service/internal/events/dispatch"
	"notification-service/internal/events/journal"
	"notification-service/internal/models"
	"notification-service/internal/notification/service"
	"notification-service/internal/notification/templates"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test doubles
// ==========================

type ackRecorder struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	requeued []uint64
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued = append(a.requeued, tag)
	} else {
		a.rejected = append(a.rejected, tag)
	}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.rejected) + len(a.requeued)
}

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []dispatch.Task
	err   error
	panic bool
}

func (s *recordingSubmitter) Submit(ctx context.Context, t dispatch.Task) error {
	if s.panic {
		panic("submitter exploded")
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []service.TemplateNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, tn service.TemplateNotification) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tn)
	return &models.Notification{ID: "n-1", RecipientID: tn.RecipientID}, nil
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *recordingJournal) Record(ctx context.Context, entry journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

type fakeChannel struct {
	mu        sync.Mutex
	prefetch  int
	exchange  string
	bindings  map[string][]string
	consumers map[string]chan amqp.Delivery
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{bindings: map[string][]string{}, consumers: map[string]chan amqp.Delivery{}}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.exchange = name + ":" + kind
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.bindings[name] = append(c.bindings[name], key)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan amqp.Delivery, 4)
	c.consumers[queue] = ch
	return ch, nil
}

func (c *fakeChannel) deliver(queue string, d amqp.Delivery) {
	c.mu.Lock()
	ch := c.consumers[queue]
	c.mu.Unlock()
	ch <- d
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		for _, ch := range c.consumers {
			close(ch)
		}
	}
	return nil
}

type fakeConnection struct {
	channel  *fakeChannel
	mu       sync.Mutex
	notify   chan *amqp.Error
	isClosed bool
}

func (c *fakeConnection) Channel() (messaging.Channel, error) { return c.channel, nil }

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

func (c *fakeConnection) drop(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify <- err
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed && c.notify != nil {
		close(c.notify)
	}
	c.isClosed = true
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

type harness struct {
	router    *Router
	submitter *recordingSubmitter
	notifier  *recordingNotifier
	journal   *recordingJournal
}

func newHarness(t *testing.T, dialer messaging.Dialer) *harness {
	t.Helper()
	h := &harness{
		submitter: &recordingSubmitter{},
		notifier:  &recordingNotifier{},
		journal:   &recordingJournal{},
	}
	cfg := DefaultConfig()
	cfg.SubmitTimeout = 50 * time.Millisecond
	h.router = NewRouter(cfg, RouterDependencies{
		Notifier:   h.notifier,
		Dispatcher: h.submitter,
		Journal:    h.journal,
		Logger:     logger.NewTestLogger(t),
		Dialer:     dialer,
	})
	return h
}

func delivery(ack amqp.Acknowledger, tag uint64, routingKey string, body interface{}) amqp.Delivery {
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		raw, _ = json.Marshal(b)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, RoutingKey: routingKey, Body: raw}
}

// runTask executes the single submitted task and returns what reached the notifier.
func (h *harness) runTask(t *testing.T) service.TemplateNotification {
	t.Helper()
	require.Len(t, h.submitter.tasks, 1)
	require.NoError(t, h.submitter.tasks[0].Run(context.Background()))
	require.Len(t, h.notifier.sent, 1)
	return h.notifier.sent[0]
}

// ==========================
// Routing
// ==========================

func TestHandleDelivery_RoutesEvents(t *testing.T) {
	tests := []struct {
		name      string
		queue     string
		body      string
		template  string
		priority  models.Priority
		recipient string
		email     string
		vars      map[string]interface{}
		dataKey   string
	}{
		{
			name:      "user registered with numeric id",
			queue:     QueueUser,
			body:      `{"eventType":"user.registered","data":{"userId":42,"email":"ana@example.com","firstName":"Ana"}}`,
			template:  templates.UserRegistered,
			priority:  models.PriorityMedium,
			recipient: "42",
			email:     "ana@example.com",
			vars:      map[string]interface{}{"first_name": "Ana", "email": "ana@example.com"},
			dataKey:   "user_data",
		},
		{
			name:      "user registered underscore form with defaults",
			queue:     QueueUser,
			body:      `{"eventType":"user_registered","data":{"userId":"u-7"}}`,
			template:  templates.UserRegistered,
			priority:  models.PriorityMedium,
			recipient: "u-7",
			vars:      map[string]interface{}{"first_name": "User", "email": ""},
			dataKey:   "user_data",
		},
		{
			name:      "user suspended",
			queue:     QueueUser,
			body:      `{"eventType":"user.suspended","data":{"userId":"9"}}`,
			template:  templates.UserSuspended,
			priority:  models.PriorityHigh,
			recipient: "9",
			vars:      map[string]interface{}{"reason": "No reason provided"},
			dataKey:   "suspension_data",
		},
		{
			name:      "admin registered",
			queue:     QueueAdmin,
			body:      `{"eventType":"admin.registered","data":{"adminId":"a1","role":"librarian","createdBy":{"email":"root@example.com"}}}`,
			template:  templates.AdminRegistered,
			priority:  models.PriorityMedium,
			recipient: "a1",
			vars:      map[string]interface{}{"first_name": "Admin", "role": "librarian", "created_by": "root@example.com"},
			dataKey:   "admin_data",
		},
		{
			name:      "admin registered without creator",
			queue:     QueueAdmin,
			body:      `{"eventType":"admin.registered","data":{"adminId":"a2"}}`,
			template:  templates.AdminRegistered,
			priority:  models.PriorityMedium,
			recipient: "a2",
			vars:      map[string]interface{}{"first_name": "Admin", "role": "admin", "created_by": "System"},
			dataKey:   "admin_data",
		},
		{
			name:      "reservation created",
			queue:     QueueReservation,
			body:      `{"eventType":"reservation.created","data":{"userId":"5","bookTitle":"Dune","dueDate":"2024-02-01"}}`,
			template:  templates.ReservationCreated,
			priority:  models.PriorityMedium,
			recipient: "5",
			vars:      map[string]interface{}{"book_title": "Dune", "book_author": "Author", "due_date": "2024-02-01"},
			dataKey:   "reservation_data",
		},
		{
			name:      "reservation returned",
			queue:     QueueReservation,
			body:      `{"eventType":"reservation_returned","data":{"userId":"5"}}`,
			template:  templates.ReservationReturned,
			priority:  models.PriorityLow,
			recipient: "5",
			vars:      map[string]interface{}{"book_title": "Book"},
			dataKey:   "reservation_data",
		},
		{
			name:      "reservation overdue",
			queue:     QueueReservation,
			body:      `{"eventType":"reservation.overdue","data":{"userId":"5","bookTitle":"Dune","dueDate":"2024-02-01"}}`,
			template:  templates.ReservationOverdue,
			priority:  models.PriorityHigh,
			recipient: "5",
			vars:      map[string]interface{}{"book_title": "Dune", "due_date": "2024-02-01"},
			dataKey:   "reservation_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ack := &ackRecorder{}

			h.router.handleDelivery(context.Background(), tt.queue, delivery(ack, 1, "rk", tt.body))

			assert.Equal(t, []uint64{1}, ack.acked)
			tn := h.runTask(t)
			assert.Equal(t, tt.template, tn.Template)
			assert.Equal(t, tt.priority, tn.Priority)
			assert.Equal(t, models.TypeSystem, tn.Type)
			assert.Equal(t, tt.recipient, tn.RecipientID)
			assert.Equal(t, tt.email, tn.RecipientEmail)
			assert.Equal(t, tt.vars, tn.Variables)
			assert.Equal(t, tt.template, tn.Data["event_type"])
			assert.Contains(t, tn.Data, tt.dataKey)

			require.Len(t, h.journal.entries, 1)
			assert.Equal(t, journal.OutcomeAcked, h.journal.entries[0].Outcome)
			assert.Equal(t, tt.queue, h.journal.entries[0].Queue)
		})
	}
}

func TestHandleDelivery_KeepsOriginalEventData(t *testing.T) {
	h := newHarness(t, nil)
	ack := &ackRecorder{}

	h.router.handleDelivery(context.Background(), QueueUser,
		delivery(ack, 1, "user_registered", `{"eventType":"user.registered","data":{"userId":42,"firstName":"Ana"}}`))

	tn := h.runTask(t)
	raw, err := json.Marshal(tn.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"user_registered","user_data":{"userId":42,"firstName":"Ana"}}`, string(raw))
}

func TestHandleDelivery_MissingRecipientStillAcked(t *testing.T) {
	h := newHarness(t, nil)
	ack := &ackRecorder{}

	h.router.handleDelivery(context.Background(), QueueUser,
		delivery(ack, 3, "user.registered", `{"eventType":"user.registered"}`))

	assert.Equal(t, []uint64{3}, ack.acked)
	tn := h.runTask(t)
	assert.Empty(t, tn.RecipientID)
}

// ==========================
// Acknowledged without routing
// ==========================

func TestHandleDelivery_IgnoredEvents(t *testing.T) {
	tests := []struct {
		name  string
		queue string
		body  string
	}{
		{"book created", QueueBook, `{"eventType":"book.created","data":{"bookId":"b1"}}`},
		{"book deleted underscore", QueueBook, `{"eventType":"book_deleted"}`},
		{"profile updated", QueueUser, `{"eventType":"user.profile_updated","data":{"userId":"1"}}`},
		{"admin login", QueueAdmin, `{"eventType":"admin.login","data":{"adminId":"1"}}`},
		{"reservation extended", QueueReservation, `{"eventType":"reservation.extended","data":{"userId":"1"}}`},
		{"unknown type", QueueUser, `{"eventType":"user.exploded","data":{}}`},
		{"event on the wrong queue", QueueUser, `{"eventType":"reservation.created","data":{"userId":"1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ack := &ackRecorder{}

			h.router.handleDelivery(context.Background(), tt.queue, delivery(ack, 7, "rk", tt.body))

			assert.Equal(t, []uint64{7}, ack.acked)
			assert.Empty(t, h.submitter.tasks)
			require.Len(t, h.journal.entries, 1)
			assert.Equal(t, journal.OutcomeIgnored, h.journal.entries[0].Outcome)
		})
	}
}

// ==========================
// Rejections
// ==========================

func TestHandleDelivery_RejectsUndecodable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{not json`},
		{"missing event type", `{"data":{"userId":"1"}}`},
		{"data is not an object", `{"eventType":"user.registered","data":[1,2]}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ack := &ackRecorder{}

			h.router.handleDelivery(context.Background(), QueueUser, delivery(ack, 11, "rk", tt.body))

			assert.Equal(t, []uint64{11}, ack.rejected)
			assert.Empty(t, ack.acked)
			assert.Empty(t, ack.requeued)
			assert.Empty(t, h.submitter.tasks)
			require.Len(t, h.journal.entries, 1)
			assert.Equal(t, journal.OutcomeRejected, h.journal.entries[0].Outcome)
			assert.NotEmpty(t, h.journal.entries[0].Reason)
		})
	}
}

func TestHandleDelivery_DispatcherRefusalRequeues(t *testing.T) {
	h := newHarness(t, nil)
	h.submitter.err = dispatch.ErrQueueFull
	ack := &ackRecorder{}

	h.router.handleDelivery(context.Background(), QueueReservation,
		delivery(ack, 4, "reservation.created", `{"eventType":"reservation.created","data":{"userId":"1"}}`))

	assert.Equal(t, []uint64{4}, ack.requeued)
	assert.Empty(t, ack.acked)
	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, journal.OutcomeRequeued, h.journal.entries[0].Outcome)
}

func TestHandleDelivery_PanicRejectsWithoutRequeue(t *testing.T) {
	h := newHarness(t, nil)
	h.submitter.panic = true
	ack := &ackRecorder{}

	h.router.handleDelivery(context.Background(), QueueUser,
		delivery(ack, 5, "user.suspended", `{"eventType":"user.suspended","data":{"userId":"1"}}`))

	assert.Equal(t, []uint64{5}, ack.rejected)
	assert.Empty(t, ack.requeued)
}

func TestProcess_ErrorCodes(t *testing.T) {
	h := newHarness(t, nil)

	_, _, err := h.router.process(context.Background(), QueueUser, amqp.Delivery{Body: []byte("nope")})
	assert.ErrorIs(t, err, apperrors.ErrDecode)

	h.submitter.err = errors.New("stopped")
	_, _, err = h.router.process(context.Background(), QueueUser,
		amqp.Delivery{Body: []byte(`{"eventType":"user.suspended","data":{"userId":"1"}}`)})
	assert.ErrorIs(t, err, apperrors.ErrDispatchRejected)
}

// ==========================
// Connection lifecycle
// ==========================

func TestConnect_Failure(t *testing.T) {
	h := newHarness(t, func(uri string) (messaging.Connection, error) {
		return nil, errors.New("connection refused")
	})

	err := h.router.Connect(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBusUnavailable)
	assert.False(t, h.router.Connected())

	err = h.router.StartConsuming(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBusUnavailable)
}

func TestConnect_DeclaresTopologyAndTracksClose(t *testing.T) {
	conn := &fakeConnection{channel: newFakeChannel()}
	h := newHarness(t, func(uri string) (messaging.Connection, error) { return conn, nil })

	require.NoError(t, h.router.Connect(context.Background()))
	assert.True(t, h.router.Connected())
	assert.Equal(t, 10, conn.channel.prefetch)
	assert.Equal(t, "library_events:topic", conn.channel.exchange)
	assert.ElementsMatch(t, []string{
		"user.registered", "user_registered",
		"user.profile_updated", "user_profile_updated",
		"user.suspended", "user_suspended",
	}, conn.channel.bindings[QueueUser])
	assert.Len(t, conn.channel.bindings, 4)

	conn.drop(&amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"})
	assert.Eventually(t, func() bool { return !h.router.Connected() }, time.Second, 5*time.Millisecond)
}

func TestStartConsuming_SettlesDeliveries(t *testing.T) {
	conn := &fakeConnection{channel: newFakeChannel()}
	h := newHarness(t, func(uri string) (messaging.Connection, error) { return conn, nil })

	require.NoError(t, h.router.Connect(context.Background()))
	require.NoError(t, h.router.StartConsuming(context.Background()))

	ack := &ackRecorder{}
	conn.channel.deliver(QueueBook, delivery(ack, 1, "book.created", `{"eventType":"book.created"}`))
	conn.channel.deliver(QueueUser, delivery(ack, 2, "user.suspended", `{"eventType":"user.suspended","data":{"userId":"3"}}`))
	conn.channel.deliver(QueueAdmin, delivery(ack, 3, "admin.registered", `garbage`))

	assert.Eventually(t, func() bool { return ack.settled() == 3 }, time.Second, 5*time.Millisecond)
	ack.mu.Lock()
	assert.ElementsMatch(t, []uint64{1, 2}, ack.acked)
	assert.Equal(t, []uint64{3}, ack.rejected)
	ack.mu.Unlock()

	h.router.Disconnect()
	assert.False(t, h.router.Connected())
	assert.True(t, conn.channel.closed)
}

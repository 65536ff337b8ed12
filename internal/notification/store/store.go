// internal/notification/store/store.go
package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/observability"
	"notification-service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store persists notifications in Redis. Each record lives in the hash notification:{id} and
// is indexed in the sorted set user_notifications:{recipient} scored by creation time.
// Record and index writes go through MULTI/EXEC, so readers never observe one without the other.
type Store struct {
	client redis.UniversalClient
	cfg    *Config
	logger logger.Logger
	obs    *observability.Observability
	now    func() time.Time
}

type Option func(*Store)

// WithObservability records operation counts and latency.
func WithObservability(obs *observability.Observability) Option {
	return func(s *Store) { s.obs = obs }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(client redis.UniversalClient, cfg *Config, log logger.Logger, opts ...Option) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Store{
		client: client,
		cfg:    cfg,
		logger: logger.ForComponent(log, "notification-store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new pending notification and indexes it under its recipient.
func (s *Store) Create(ctx context.Context, in models.NewNotification) (n *models.Notification, err error) {
	defer s.observe(ctx, "create", time.Now(), &err)

	if in.RecipientID == "" {
		return nil, apperrors.NewValidationFailedError("recipient_id is required")
	}

	now := s.now().UTC()
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	n = &models.Notification{
		ID:             uuid.NewString(),
		Type:           in.Type,
		RecipientID:    in.RecipientID,
		RecipientEmail: in.RecipientEmail,
		Title:          in.Title,
		Message:        in.Message,
		Priority:       priority,
		Status:         models.StatusPending,
		Data:           in.Data,
		CreatedAt:      now,
		UpdatedAt:      now,
		ScheduledAt:    in.ScheduledAt,
	}

	fields, err := encode(n)
	if err != nil {
		return nil, apperrors.NewValidationFailedError(err.Error())
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, notificationKey(n.ID), fields)
		pipe.ZAdd(ctx, recipientKey(n.RecipientID), redis.Z{Score: score(now), Member: n.ID})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("create", err)
	}

	s.logger.Debug("notification created", map[string]interface{}{
		"notificationId": n.ID,
		"recipientId":    n.RecipientID,
	})
	return n, nil
}

// Get returns the notification with the given id.
func (s *Store) Get(ctx context.Context, id string) (n *models.Notification, err error) {
	defer s.observe(ctx, "get", time.Now(), &err)

	ctx, cancel := s.begin(ctx)
	defer cancel()

	vals, err := s.client.HGetAll(ctx, notificationKey(id)).Result()
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("get", err)
	}
	if len(vals) == 0 {
		return nil, apperrors.NewNotFoundError("notification", id)
	}

	n, err = decode(vals)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return n, nil
}

// Update applies a partial update under WATCH, retrying when the record changes concurrently.
// A same-status update is a no-op and returns the record unchanged.
func (s *Store) Update(ctx context.Context, id string, upd models.NotificationUpdate) (n *models.Notification, err error) {
	defer s.observe(ctx, "update", time.Now(), &err)

	if upd.Status != nil && !upd.Status.Valid() {
		return nil, apperrors.NewValidationFailedError("unknown status " + string(*upd.Status))
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	key := notificationKey(id)
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return apperrors.NewNotFoundError("notification", id)
		}

		current, err := decode(vals)
		if err != nil {
			return apperrors.NewInternalError(err)
		}

		changed, err := applyUpdate(current, upd, s.now().UTC())
		if err != nil {
			return err
		}
		if changed {
			fields, err := encode(current)
			if err != nil {
				return apperrors.NewInternalError(err)
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				return nil
			}); err != nil {
				return err
			}
		}

		n = current
		return nil
	}

	attempts := s.cfg.MaxUpdateRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	if err != nil {
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return nil, err
		}
		return nil, apperrors.NewStoreUnavailableError("update", err)
	}
	return n, nil
}

// applyUpdate merges upd into n and reports whether anything changed.
// Setting ReadAt forces the read status; sent_at and read_at are only ever set once.
func applyUpdate(n *models.Notification, upd models.NotificationUpdate, now time.Time) (bool, error) {
	target := n.Status
	if upd.Status != nil {
		target = *upd.Status
	}
	if upd.ReadAt != nil {
		target = models.StatusRead
	}

	if target == n.Status {
		return false, nil
	}
	if !n.Status.CanTransition(target) {
		return false, apperrors.NewInvalidTransitionError(string(n.Status), string(target))
	}

	n.Status = target
	switch target {
	case models.StatusSent:
		if n.SentAt == nil {
			t := now
			n.SentAt = &t
		}
	case models.StatusRead:
		if n.ReadAt == nil {
			t := now
			if upd.ReadAt != nil {
				t = upd.ReadAt.UTC()
			}
			n.ReadAt = &t
		}
	}
	n.UpdatedAt = now
	return true, nil
}

// Delete removes the record and its index entry. It reports false when the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) (deleted bool, err error) {
	defer s.observe(ctx, "delete", time.Now(), &err)

	ctx, cancel := s.begin(ctx)
	defer cancel()

	key := notificationKey(id)
	recipientID, err := s.client.HGet(ctx, key, "recipient_id").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStoreUnavailableError("delete", err)
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.ZRem(ctx, recipientKey(recipientID), id)
		return nil
	})
	if err != nil {
		return false, apperrors.NewStoreUnavailableError("delete", err)
	}

	return del.Val() > 0, nil
}

// ListByRecipient returns one page of a recipient's notifications, newest first.
// Total is the unfiltered index size and the status filter applies after windowing,
// so a filtered page can hold fewer than limit items.
func (s *Store) ListByRecipient(ctx context.Context, recipientID string, page, limit int, status *models.Status) (p *models.Page, err error) {
	defer s.observe(ctx, "list", time.Now(), &err)

	if page < 1 || limit < 1 {
		return nil, apperrors.NewValidationFailedError("page and limit must be positive")
	}
	if int64(page-1) > (math.MaxInt64-int64(limit))/int64(limit) {
		return nil, apperrors.NewValidationFailedError("page is out of range")
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	start := int64(page-1) * int64(limit)
	end := start + int64(limit) - 1
	idxKey := recipientKey(recipientID)

	var (
		totalCmd *redis.IntCmd
		idsCmd   *redis.StringSliceCmd
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		totalCmd = pipe.ZCard(ctx, idxKey)
		idsCmd = pipe.ZRevRange(ctx, idxKey, start, end)
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("list", err)
	}

	records, err := s.fetch(ctx, idsCmd.Val())
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("list", err)
	}

	items := make([]*models.Notification, 0, len(records))
	for _, n := range records {
		if status != nil && n.Status != *status {
			continue
		}
		items = append(items, n)
	}

	total := totalCmd.Val()
	return &models.Page{
		Notifications: items,
		Total:         total,
		Page:          page,
		Limit:         limit,
		HasNext:       end < total-1,
		HasPrev:       page > 1,
	}, nil
}

// fetch loads records in one round trip. Index entries whose record is gone are skipped.
func (s *Store) fetch(ctx context.Context, ids []string) ([]*models.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, notificationKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Notification, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		n, err := decode(vals)
		if err != nil {
			s.logger.Warn("skipping undecodable notification", map[string]interface{}{
				"notificationId": ids[i],
				"error":          err,
			})
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// CountUnread counts non-read notifications among the recipient's newest entries.
func (s *Store) CountUnread(ctx context.Context, recipientID string) (count int, err error) {
	defer s.observe(ctx, "count_unread", time.Now(), &err)

	ctx, cancel := s.begin(ctx)
	defer cancel()

	ids, err := s.client.ZRevRange(ctx, recipientKey(recipientID), 0, s.cfg.UnreadScanLimit-1).Result()
	if err != nil {
		return 0, apperrors.NewStoreUnavailableError("count_unread", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, notificationKey(id), "status")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, apperrors.NewStoreUnavailableError("count_unread", err)
	}

	for _, cmd := range cmds {
		st, err := cmd.Result()
		if err != nil {
			continue
		}
		if models.Status(st) != models.StatusRead {
			count++
		}
	}
	return count, nil
}

// DeleteOlderThan removes every notification created more than age ago, one recipient at a
// time. It is not atomic across recipients: on failure it returns what was already removed.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (deleted int, err error) {
	defer s.observe(ctx, "cleanup", time.Now(), &err)

	cutoff := s.now().Add(-age)
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)

	iter := s.client.Scan(ctx, 0, recipientKeyPrefix+"*", s.cfg.ScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := s.purgeRecipient(ctx, iter.Val(), maxScore)
		deleted += n
		if err != nil {
			return deleted, apperrors.NewStoreUnavailableError("cleanup", err)
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, apperrors.NewStoreUnavailableError("cleanup", err)
	}
	return deleted, nil
}

func (s *Store) purgeRecipient(ctx context.Context, idxKey, maxScore string) (int, error) {
	ctx, cancel := s.begin(ctx)
	defer cancel()

	ids, err := s.client.ZRangeByScore(ctx, idxKey, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = notificationKey(id)
		members[i] = id
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, idxKey, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed.Val()), nil
}

// Ping checks the backend connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.begin(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewStoreUnavailableError("ping", err)
	}
	return nil
}

func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

func (s *Store) observe(ctx context.Context, operation string, start time.Time, err *error) {
	s.obs.RecordStoreOperation(ctx, operation, time.Since(start), *err)
}

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const defaultConcurrency = 4

type Queue struct {
	conn        *nats.Conn
	subject     string
	concurrency int
	guard       *resilience.Guard
	now         func() time.Time
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Concurrency          int
	Guard                *resilience.Guard
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("pidsync"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:        conn,
		subject:     subject,
		concurrency: normalizeConcurrency(options.Concurrency),
		guard:       options.Guard,
		now:         time.Now,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// ScheduleOnce publishes the task; the consumer holds it until NotBefore.
func (q *Queue) ScheduleOnce(ctx context.Context, task domain.SyncTask) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.guard != nil {
		err = q.guard.Do(ctx, "publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeSyncTasks blocks until ctx is done. Tasks are delivered to one
// worker in the queue group and handled at most concurrency at a time.
func (q *Queue) SubscribeSyncTasks(ctx context.Context, handler func(context.Context, domain.SyncTask) error) error {
	slots := make(chan struct{}, q.concurrency)
	var inflight sync.WaitGroup

	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		task, err := decodeTask(msg.Data)
		if err != nil {
			slog.Error("sync_task_decode_failed", "error", err)
			return
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-slots }()
			q.handle(ctx, task, handler)
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	inflight.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, task domain.SyncTask, handler func(context.Context, domain.SyncTask) error) {
	if err := waitUntil(ctx, task.NotBefore, q.now); err != nil {
		slog.Warn("sync_task_dropped", "task_id", task.ID, "publication_id", task.PublicationID, "error", err)
		return
	}
	if err := handler(ctx, task); err != nil {
		slog.Error("sync_task_failed", "task_id", task.ID, "publication_id", task.PublicationID, "error", err)
	}
}

// waitUntil returns when the deadline has passed or ctx is done.
func waitUntil(ctx context.Context, deadline time.Time, now func() time.Time) error {
	delay := deadline.Sub(now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodeTask(task domain.SyncTask) ([]byte, error) {
	if task.PublicationID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode sync task", fmt.Errorf("publication id must be positive"))
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal sync task: %w", err)
	}
	return payload, nil
}

func decodeTask(payload []byte) (domain.SyncTask, error) {
	var task domain.SyncTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return domain.SyncTask{}, fmt.Errorf("unmarshal sync task: %w", err)
	}
	if task.PublicationID <= 0 {
		return domain.SyncTask{}, domain.WrapError(domain.ErrInvalidInput, "decode sync task", fmt.Errorf("publication id must be positive"))
	}
	return task, nil
}

func normalizeConcurrency(value int) int {
	if value <= 0 {
		return defaultConcurrency
	}
	return value
}

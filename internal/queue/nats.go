package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hookrelay/hookrelay/internal/logging"
)

const (
	StreamName      = "DELIVERIES"
	DispatchSubject = "deliveries.dispatch"
	ConsumerName    = "dispatcher"
)

// NATS implements Enqueuer and Consumer on a JetStream work-queue stream.
// Redelivery scheduling is the server's: a NakWithDelay hands the backoff
// to JetStream, and the consumer's MaxDeliver bounds total attempts.
type NATS struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
}

// Connect dials NATS (retrying while the server comes up) and provisions
// the stream and the durable dispatcher consumer. maxAttempts becomes the
// consumer's MaxDeliver; ackWait must exceed one full delivery attempt.
func Connect(ctx context.Context, url string, maxAttempts int, ackWait time.Duration) (*NATS, error) {
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		return nats.Connect(url)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{DispatchSubject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    ConsumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: maxAttempts,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return &NATS{conn: conn, js: js, stream: stream, consumer: consumer}, nil
}

func (q *NATS) Close() {
	q.conn.Close()
}

// JetStream exposes the underlying context so callers can provision KV
// buckets on the same connection.
func (q *NATS) JetStream() jetstream.JetStream {
	return q.js
}

func (q *NATS) Enqueue(ctx context.Context, eventID string) error {
	data, err := json.Marshal(WorkItem{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	if _, err := q.js.Publish(ctx, DispatchSubject, data); err != nil {
		return fmt.Errorf("enqueue event %s: %w", eventID, err)
	}
	return nil
}

// EnqueueBulk publishes asynchronously and waits once for all acks, so a
// resume of thousands of buffered events is not thousands of round trips.
func (q *NATS) EnqueueBulk(ctx context.Context, eventIDs []string) error {
	futures := make([]jetstream.PubAckFuture, 0, len(eventIDs))
	for _, id := range eventIDs {
		data, err := json.Marshal(WorkItem{EventID: id})
		if err != nil {
			return fmt.Errorf("marshal work item: %w", err)
		}
		f, err := q.js.PublishAsync(DispatchSubject, data)
		if err != nil {
			return fmt.Errorf("enqueue event %s: %w", id, err)
		}
		futures = append(futures, f)
	}

	select {
	case <-q.js.PublishAsyncComplete():
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, f := range futures {
		select {
		case err := <-f.Err():
			return fmt.Errorf("bulk enqueue: %w", err)
		default:
		}
	}
	return nil
}

func (q *NATS) Fetch(ctx context.Context, batch int) ([]Message, error) {
	msgs, err := q.consumer.Fetch(batch, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch work items: %w", err)
	}

	var out []Message
	for msg := range msgs.Messages() {
		m, err := wrapMessage(msg)
		if err != nil {
			// undecodable work items are poison; drop them
			slog.Warn("discarding malformed work item", slog.String("code", "QUEUE_POISON"), slog.Any("error", err))
			_ = msg.Term()
			continue
		}
		out = append(out, m)
	}
	return out, msgs.Error()
}

type natsMessage struct {
	msg     jetstream.Msg
	eventID string
	attempt int
}

func wrapMessage(msg jetstream.Msg) (*natsMessage, error) {
	var item WorkItem
	if err := json.Unmarshal(msg.Data(), &item); err != nil {
		return nil, fmt.Errorf("unmarshal work item: %w", err)
	}
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("work item metadata: %w", err)
	}
	return &natsMessage{
		msg:     msg,
		eventID: item.EventID,
		attempt: int(meta.NumDelivered),
	}, nil
}

func (m *natsMessage) EventID() string { return m.eventID }
func (m *natsMessage) Attempt() int    { return m.attempt }
func (m *natsMessage) Ack() error      { return m.msg.Ack() }
func (m *natsMessage) Discard() error  { return m.msg.Term() }

func (m *natsMessage) RetryAfter(d time.Duration) error {
	return m.msg.NakWithDelay(d)
}

// maxDeliveriesAdvisory is the JetStream advisory published when a work
// item exhausts MaxDeliver.
type maxDeliveriesAdvisory struct {
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries uint64 `json:"deliveries"`
}

// exhaustedStream is the slice of jetstream.Stream the advisory handler
// needs: resolving a sequence to its message and removing it.
type exhaustedStream interface {
	GetMsg(ctx context.Context, seq uint64, opts ...jetstream.GetMsgOpt) (*jetstream.RawStreamMsg, error)
	DeleteMsg(ctx context.Context, seq uint64) error
}

// handleExhausted resolves one max-deliveries advisory to its work item,
// hands the event ID to fn, and removes the spent message from the stream.
// After MaxDeliver the server will never redeliver it, so leaving it in the
// work queue only accumulates dead messages.
func handleExhausted(ctx context.Context, stream exhaustedStream, data []byte, fn func(ctx context.Context, eventID string)) {
	var adv maxDeliveriesAdvisory
	if err := json.Unmarshal(data, &adv); err != nil {
		slog.Error("failed to unmarshal max-deliveries advisory", slog.String("code", "QUEUE_ADVISORY"), slog.Any("error", err))
		return
	}

	raw, err := stream.GetMsg(ctx, adv.StreamSeq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return // already purged from the work queue
		}
		slog.Error("failed to load exhausted work item", slog.String("code", "QUEUE_ADVISORY"), slog.Any("error", err))
		return
	}

	var item WorkItem
	if err := json.Unmarshal(raw.Data, &item); err != nil {
		slog.Error("failed to unmarshal exhausted work item", slog.String("code", "QUEUE_ADVISORY"), slog.Any("error", err))
		return
	}

	l := logging.FromContext(logging.WithEventID(ctx, item.EventID))
	l.Warn("work item exhausted all delivery attempts", slog.String("code", "DEL_EXHAUSTED"), slog.Uint64("deliveries", adv.Deliveries))
	fn(logging.WithEventID(ctx, item.EventID), item.EventID)

	if err := stream.DeleteMsg(ctx, adv.StreamSeq); err != nil && !errors.Is(err, jetstream.ErrMsgNotFound) {
		l.Error("failed to remove exhausted work item", slog.String("code", "QUEUE_ADVISORY"), slog.Any("error", err))
	}
}

// OnExhausted invokes fn for every work item that runs out of delivery
// attempts. This is the terminal-failure listener: the in-line dispatcher
// path normally finalizes the event first, and fn is the crash backstop
// that catches the ones it missed.
func (q *NATS) OnExhausted(ctx context.Context, fn func(ctx context.Context, eventID string)) error {
	subject := fmt.Sprintf("$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.%s.%s", StreamName, ConsumerName)

	sub, err := q.conn.Subscribe(subject, func(m *nats.Msg) {
		handleExhausted(ctx, q.stream, m.Data, fn)
	})
	if err != nil {
		return fmt.Errorf("subscribe to max-deliveries advisory: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

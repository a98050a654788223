package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outboxRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
		AddRow(int64(7), "evt-7", "appointment", "appt-1", "booking.appointment.booked.v1", []byte(`{"id":"appt-1"}`), "", "", time.Now())
}

func TestInsertStoresEnvelope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	evt, err := NewEvent("schedule", "prov-1", "schedule.weekly.replaced.v1", map[string]string{"provider_id": "prov-1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("schedule", "prov-1", "schedule.weekly.replaced.v1", []byte(`{"provider_id":"prov-1"}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := NewRepository().Insert(ctx, tx, evt); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatchMarksPublished(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, event_id").WithArgs(10).WillReturnRows(outboxRows())
	mock.ExpectExec("UPDATE outbox_events").WithArgs([]int64{7}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := NewPublisher(mock, NewRepository(), testLogger(), PublisherConfig{Brokers: "kafka:9092", BatchSize: 10})
	w := &captureWriter{}
	n, err := pub.PublishBatch(context.Background(), w)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 1 || len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got n=%d msgs=%d", n, len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "booking.appointment.booked.v1" || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected message routing %q %q", msg.Topic, msg.Key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatchWriteFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, event_id").WithArgs(50).WillReturnRows(outboxRows())
	mock.ExpectRollback()

	pub := NewPublisher(mock, NewRepository(), testLogger(), PublisherConfig{Brokers: "kafka:9092"})
	if _, err := pub.PublishBatch(context.Background(), &captureWriter{err: errors.New("broker down")}); err == nil {
		t.Fatal("expected write error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

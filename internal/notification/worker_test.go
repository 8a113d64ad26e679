package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

const subscriptionQuery = `SELECT .* FROM "push_subscriptions".*JOIN subscription_ticket_mapping stm.*WHERE stm\.service_ticket_id = \$1`

func ok() *http.Response {
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func ticketEvent(id, number string) lifecycle.Event {
	return lifecycle.Event{
		Entity:       lifecycle.EntityTicket,
		EntityID:     id,
		TicketID:     id,
		TicketNumber: number,
		OldStatus:    "RECEIVED",
		NewStatus:    "IN_PROGRESS",
		Actor:        "rc:bob",
		At:           time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestWorkerPool_PublishQueuesOnlyTicketEvents(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	wp.Publish(
		lifecycle.Event{Entity: lifecycle.EntityCassette, EntityID: "c1", OldStatus: "OK", NewStatus: "BAD"},
		ticketEvent("t1", "TKT-20240501-AAAAAA"),
		lifecycle.Event{Entity: lifecycle.EntityRepair, EntityID: "r1", OldStatus: "RECEIVED", NewStatus: "DIAGNOSING"},
	)

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "t1", job.TicketID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be queued")
	}
	assert.Len(t, wp.Jobs(), 0)
}

func TestWorkerPool_PublishNeverBlocks(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth+10; i++ {
			wp.Publish(ticketEvent(fmt.Sprintf("t%d", i), ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Len(t, wp.Jobs(), queueDepth)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, gormDB, &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends notification for one subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		subscription := model.PushSubscription{
			Endpoint: "https://example.com/push",
			P256DH:   "test_p256dh",
			Auth:     "test_auth",
		}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var msg Message
				assert.NoError(t, json.Unmarshal(payload, &msg))
				assert.Equal(t, "Ticket TKT-20240501-AAAAAA", msg.Title)
				assert.Equal(t, "RECEIVED", msg.OldStatus)
				assert.Equal(t, "IN_PROGRESS", msg.NewStatus)
				return ok(), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("t-101").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow(subscription.Endpoint, subscription.P256DH, subscription.Auth, time.Now()))

		wp.Publish(ticketEvent("t-101", "TKT-20240501-AAAAAA"))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("looks up the ticket number when the event lacks it", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				var msg Message
				assert.NoError(t, json.Unmarshal(payload, &msg))
				assert.Equal(t, "TKT-20240501-BBBBBB", msg.TicketNumber)
				return ok(), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("t-102").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/lookup", "k", "a", time.Now()))
		mock.ExpectQuery(`SELECT "ticket_number" FROM "service_tickets" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"ticket_number"}).AddRow("TKT-20240501-BBBBBB"))

		wp.Publish(ticketEvent("t-102", ""))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls back to the ticket id when lookup fails", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				var msg Message
				assert.NoError(t, json.Unmarshal(payload, &msg))
				assert.Equal(t, "Ticket t-103", msg.Title)
				return ok(), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("t-103").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow("https://example.com/fallback", "k", "a", time.Now()))
		mock.ExpectQuery(`SELECT "ticket_number" FROM "service_tickets"`).
			WillReturnError(fmt.Errorf("ticket not found"))

		wp.Publish(ticketEvent("t-103", ""))
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		subscription := model.PushSubscription{
			Endpoint: "https://example.com/expired",
			P256DH:   "test_p256dh_expired",
			Auth:     "test_auth_expired",
		}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("t-104").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow(subscription.Endpoint, subscription.P256DH, subscription.Auth, time.Now()))
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM subscription_ticket_mapping WHERE push_subscription_endpoint = \$1`).
			WithArgs(subscription.Endpoint).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs(subscription.Endpoint).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Publish(ticketEvent("t-104", "TKT-20240501-CCCCCC"))

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

// queueDepth is the number of buffered events per worker.
const queueDepth = 32

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON payload delivered to subscribed browsers.
type Message struct {
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	TicketID     string    `json:"ticketId"`
	TicketNumber string    `json:"ticketNumber"`
	OldStatus    string    `json:"oldStatus"`
	NewStatus    string    `json:"newStatus"`
	At           time.Time `json:"at"`
}

// WorkerPool consumes ticket status events and pushes them to subscribers.
type WorkerPool struct {
	size    int
	jobs    chan lifecycle.Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan lifecycle.Event, size*queueDepth),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case e := <-wp.jobs:
			wp.sendNotificationsForTicket(ctx, e)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Publish queues the ticket events among events. It never blocks the caller:
// when the queue is full the event is dropped and logged.
func (wp *WorkerPool) Publish(events ...lifecycle.Event) {
	for _, e := range lifecycle.TicketEvents(events) {
		select {
		case wp.jobs <- e:
		default:
			log.Printf("Notification queue full, dropping %s %s -> %s", e.TicketID, e.OldStatus, e.NewStatus)
		}
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan lifecycle.Event {
	return wp.jobs
}

func (wp *WorkerPool) sendNotificationsForTicket(ctx context.Context, e lifecycle.Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_ticket_mapping stm ON stm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("stm.service_ticket_id = ?", e.TicketID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for ticket %s: %v", e.TicketID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := e.TicketNumber
	if label == "" {
		var t model.ServiceTicket
		if err := wp.db.WithContext(ctx).
			Unscoped().
			Select("ticket_number").
			Where("id = ?", e.TicketID).
			First(&t).Error; err != nil {
			log.Printf("Error fetching ticket %s: %v", e.TicketID, err)
			label = e.TicketID
		} else {
			label = t.TicketNumber
		}
	}

	payload, err := json.Marshal(Message{
		Title:        fmt.Sprintf("Ticket %s", label),
		Body:         fmt.Sprintf("Status changed from %s to %s", e.OldStatus, e.NewStatus),
		TicketID:     e.TicketID,
		TicketNumber: label,
		OldStatus:    e.OldStatus,
		NewStatus:    e.NewStatus,
		At:           e.At,
	})
	if err != nil {
		log.Printf("Error encoding notification for ticket %s: %v", e.TicketID, err)
		return
	}

	log.Printf("Sending %d notifications for ticket %s", len(subscriptions), label)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := DeleteSubscription(ctx, wp.db, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}

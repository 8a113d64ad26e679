package api

import (
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/store"
)

// Publisher receives the events of every successful operation.
type Publisher interface {
	Publish(events ...lifecycle.Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(events ...lifecycle.Event)

// Publish calls f.
func (f PublisherFunc) Publish(events ...lifecycle.Event) { f(events...) }

// Handler holds shared dependencies for API handlers.
type Handler struct {
	core      *core.Service
	store     store.Store
	webpush   *webpush.Options
	publisher Publisher
}

// NewHandler creates a new API handler. publisher may be nil.
func NewHandler(svc *core.Service, s store.Store, webpushOptions *webpush.Options, publisher Publisher) *Handler {
	return &Handler{
		core:      svc,
		store:     s,
		webpush:   webpushOptions,
		publisher: publisher,
	}
}

func (h *Handler) publish(events []lifecycle.Event) {
	if h.publisher != nil && len(events) > 0 {
		h.publisher.Publish(events...)
	}
}

func includeDeleted(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("include_deleted"))
	return v
}

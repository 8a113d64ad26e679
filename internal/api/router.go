package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"cassette-tracker-backend/config"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/mw"
)

// NewCache creates the response cache shared by the GET middleware and any
// background writer that needs to invalidate it.
func NewCache(ttl time.Duration) *mw.ResponseCache {
	return mw.NewResponseCache(ttl)
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, responses *mw.ResponseCache) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := mw.Cache(responses, cfg.CacheTTL())

	api := r.Group("/api")
	api.Use(mw.Actor(cfg.ActorHeader), rateLimiter, caching)
	{
		api.POST("/cassettes", h.RegisterCassette)
		api.GET("/cassettes", h.ListCassettes)
		api.GET("/cassettes/:id", h.GetCassette)
		api.POST("/cassettes/:id/transitions", h.TransitionCassette)
		api.POST("/cassettes/:id/fault", h.ReportFault)
		api.POST("/cassettes/:id/reconcile", h.ReconcileCassette)
		api.GET("/cassettes/:id/tickets", h.CassetteTickets)
		api.GET("/cassettes/:id/repairs", h.CassetteRepairs)
		api.GET("/cassettes/:id/history", h.History(lifecycle.EntityCassette))

		api.POST("/tickets", h.CreateTicket)
		api.GET("/tickets/:id", h.GetTicket)
		api.DELETE("/tickets/:id", h.DeleteTicket)
		api.POST("/tickets/:id/restore", h.RestoreTicket)
		api.POST("/tickets/:id/advance", h.AdvanceTicket)
		api.POST("/tickets/:id/resolve", h.ResolveTicket)
		api.GET("/tickets/:id/cassettes", h.TicketCassettes)
		api.GET("/tickets/:id/history", h.History(lifecycle.EntityTicket))
		api.POST("/tickets/:id/deliveries", h.ShipToRepairCenter)
		api.GET("/tickets/:id/deliveries", h.TicketDeliveries)
		api.POST("/tickets/:id/returns", h.ShipReturn)

		api.GET("/deliveries/:id", h.GetDelivery)
		api.POST("/deliveries/:id/receive", h.ReceiveDelivery)
		api.GET("/returns/:id", h.GetReturn)
		api.POST("/returns/:id/receive", h.ReceiveReturn)

		api.GET("/repairs/:id", h.GetRepair)
		api.POST("/repairs/:id/advance", h.AdvanceRepair)
		api.POST("/repairs/:id/complete", h.CompleteRepair)
		api.GET("/repairs/:id/history", h.History(lifecycle.EntityRepair))

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}

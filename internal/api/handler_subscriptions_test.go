package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSubscriptionRouter() *gin.Engine {
	r := gin.Default()
	handler := NewHandler(nil, nil, nil, nil)
	r.PUT("/api/subscriptions", handler.PutSubscription)
	r.GET("/api/subscriptions", handler.GetSubscription)
	return r
}

func TestPutSubscription(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestGetSubscription_RequiresEndpoint(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	cassette := ts.registerCassette("CST-7001")
	ticket := ts.createTicket(cassette)

	endpoint := "https://push.example.com/abc"
	w := ts.do(http.MethodPut, "/api/subscriptions", map[string]any{
		"endpoint":           endpoint,
		"p256dh":             "key",
		"auth":               "secret",
		"subscribed_tickets": []string{ticket, "unknown"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_tickets":["`+ticket+`"]}`, w.Body.String())

	// Resubscribing replaces the ticket list.
	w = ts.do(http.MethodPut, "/api/subscriptions", map[string]any{
		"endpoint": endpoint, "p256dh": "key2", "auth": "secret2",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.JSONEq(t, `{"subscribed_tickets":[]}`, w.Body.String())

	w = ts.do(http.MethodDelete, "/api/subscriptions", map[string]any{"endpoint": endpoint})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(http.MethodGet, "/api/subscriptions?endpoint="+url.QueryEscape("nope"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	r := gin.New()
	r.GET("/k", NewHandler(nil, nil, nil, nil).GetVAPIDPublicKey)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/k", bytes.NewReader(nil))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

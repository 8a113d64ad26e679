package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/lifecycle"
)

var errorStatus = map[error]struct {
	status int
	code   string
}{
	lifecycle.ErrNotFound:               {http.StatusNotFound, "NOT_FOUND"},
	lifecycle.ErrInvalidTransition:      {http.StatusConflict, "INVALID_TRANSITION"},
	lifecycle.ErrPreconditionFailed:     {http.StatusPreconditionFailed, "PRECONDITION_FAILED"},
	lifecycle.ErrIncompleteCassetteSet:  {http.StatusUnprocessableEntity, "INCOMPLETE_CASSETTE_SET"},
	lifecycle.ErrAlreadyReceived:        {http.StatusConflict, "ALREADY_RECEIVED"},
	lifecycle.ErrAlreadyShipped:         {http.StatusConflict, "ALREADY_SHIPPED"},
	lifecycle.ErrConcurrentModification: {http.StatusConflict, "CONCURRENT_MODIFICATION"},
	lifecycle.ErrInvalidInput:           {http.StatusBadRequest, "INVALID_INPUT"},
}

// writeError maps a core error onto a status code and a {error, code} body.
func writeError(c *gin.Context, err error) {
	if m, ok := errorStatus[lifecycle.KindOf(err)]; ok {
		c.AbortWithStatusJSON(m.status, gin.H{"error": err.Error(), "code": m.code})
		return
	}
	log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
}

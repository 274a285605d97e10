package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the shape of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const internalErrorMessage = "something went wrong, please try again"

// RespondError writes a failure envelope. Server-side failures never echo the
// underlying error to the caller.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if status >= http.StatusInternalServerError {
		msg = internalErrorMessage
	}
	c.JSON(status, Envelope{
		Success: false,
		Message: msg,
		Error:   code,
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: payload})
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: payload})
}

func RespondMessage(c *gin.Context, status int, message string, payload any) {
	c.JSON(status, Envelope{Success: status < http.StatusBadRequest, Message: message, Data: payload})
}

package app

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const errKey = "dh_error"

// Error is the wire shape of a failed request. RequestID echoes the id the
// RequestID middleware assigned so a response can be matched to its log
// lines.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	RequestID   string            `json:"request_id,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps either a payload or an error, never both.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records a structured error and stops the handler chain. The
// Errors middleware renders it once the chain unwinds.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set(errKey, &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// Errors renders any recorded error as a JSON envelope tagged with the
// request id, and logs it under the same id.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get(errKey)
		if !ok {
			return
		}
		e, ok := v.(*Error)
		if !ok {
			return
		}
		e.RequestID = c.GetString(requestIDKey)
		ev := log.Ctx(c.Request.Context()).Error().
			Str("code", e.Code).
			Int("status", c.Writer.Status())
		for k, msg := range e.FieldErrors {
			ev = ev.Str("field_"+k, msg)
		}
		ev.Msg(e.Message)
		c.JSON(c.Writer.Status(), Envelope{Error: e})
	}
}

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/infrastructure/tracing"
)

// GenericErrorMessage is the only failure detail a client ever receives.
const GenericErrorMessage = "Something went wrong on the server"

// ErrPanic wraps values recovered from panicking handlers.
var ErrPanic = errors.New("handler panicked")

// Boundary is the terminal error handler. It must be registered before
// every other middleware so that it observes errors and panics from the
// whole chain. Failures that did not already produce a response are
// answered with 500 and a generic body; details go to the log only.
func Boundary(logger *logging.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logger.Error("panic recovered",
				zap.Any("panic", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("trace_id", string(tracing.TraceIDFrom(c.Request.Context()))),
				zap.Stack("stack"),
			)
			if metrics != nil {
				metrics.RecordHandlerError(route(c), "panic")
			}
			respondGeneric(c)
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		kind := "error"
		for _, e := range c.Errors {
			fields := []zap.Field{
				zap.Error(e.Err),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("trace_id", string(tracing.TraceIDFrom(c.Request.Context()))),
			}
			var pe *RecoveredPanic
			if errors.As(e.Err, &pe) {
				kind = "panic"
				logger.Error("panic recovered", append(fields, zap.ByteString("stack", pe.Stack))...)
				continue
			}
			logger.Error("request failed", fields...)
		}
		if c.Writer.Written() {
			return
		}
		if metrics != nil {
			metrics.RecordHandlerError(route(c), kind)
		}
		respondGeneric(c)
	}
}

// RecoveredPanic is a panic turned into an error. It matches ErrPanic and,
// when the panic value was an error, that error too.
type RecoveredPanic struct {
	Value any
	Stack []byte
}

func (p *RecoveredPanic) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, p.Value)
}

func (p *RecoveredPanic) Unwrap() []error {
	if err, ok := p.Value.(error); ok {
		return []error{ErrPanic, err}
	}
	return []error{ErrPanic}
}

// PanicError converts a recovered value into an error carrying the stack
// of the panicking goroutine. Call it from the deferred function.
func PanicError(rec any) error {
	return &RecoveredPanic{Value: rec, Stack: debug.Stack()}
}

func respondGeneric(c *gin.Context) {
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": GenericErrorMessage,
	})
}

func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}

package safe

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parlance-app/backend/internal/api/middleware"
)

// Handler is a gin handler that reports failure by returning an error.
type Handler func(c *gin.Context) error

// Handle adapts h so that a returned error or a panic is recorded on the
// context and the chain is aborted. The error boundary turns it into the
// generic 500 response. The success path is untouched.
func Handle(h Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer recoverInto(c)

		if err := h(c); err != nil {
			_ = c.Error(err)
			c.Abort()
		}
	}
}

// Wrap applies the same failure handling to a plain gin handler, typically
// a middleware. Wrapping twice behaves exactly like wrapping once: the inner
// layer records the failure and the outer one sees a normal return.
func Wrap(h gin.HandlerFunc) gin.HandlerFunc {
	return Handle(Adapt(h))
}

// Adapt turns a plain gin handler into a Handler that never returns an
// error itself.
func Adapt(h gin.HandlerFunc) Handler {
	return func(c *gin.Context) error {
		h(c)
		return nil
	}
}

// Go runs fn on its own goroutine. Its error, or a recovered panic, is
// delivered on the returned channel, which is closed afterwards.
func Go(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				out <- middleware.PanicError(rec)
			}
		}()
		out <- fn(ctx)
	}()
	return out
}

// Await waits for a unit started with Go, or for ctx to end.
func Await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort writes a JSON error with the given status and stops the chain.
// It returns nil so handlers can return it directly.
func Abort(c *gin.Context, status int, message string) error {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
	return nil
}

func BadRequest(c *gin.Context, message string) error {
	return Abort(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) error {
	return Abort(c, http.StatusNotFound, message)
}

func recoverInto(c *gin.Context) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	_ = c.Error(middleware.PanicError(rec))
	c.Abort()
}

package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

// RawBodyKey is the context key under which JSONBody stores the request body.
const RawBodyKey = "middleware.rawBody"

// DefaultBodyLimit caps JSON request bodies.
const DefaultBodyLimit int64 = 1 << 20

// JSONBody reads and validates JSON request bodies before any later layer
// runs. The body is re-attached so handlers can bind it again.
func JSONBody(limit int64) gin.HandlerFunc {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.Body == http.NoBody || !isJSON(c.ContentType()) {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": "request body too large",
				})
				return
			}
			_ = c.Error(fmt.Errorf("read request body: %w", err))
			c.Abort()
			return
		}

		if len(bytes.TrimSpace(body)) > 0 && !sonic.Valid(body) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid JSON body",
			})
			return
		}

		c.Set(RawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// RawBody returns the body captured by JSONBody.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(RawBodyKey)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/infrastructure/logging"
)

// Options configures outbound HTTP clients.
type Options struct {
	RetryMax int
	WaitMin  time.Duration
	WaitMax  time.Duration
	Timeout  time.Duration
	Logger   *logging.Logger
}

// DefaultOptions returns the settings used for provider and API calls.
func DefaultOptions() Options {
	return Options{
		RetryMax: 3,
		WaitMin:  500 * time.Millisecond,
		WaitMax:  10 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// NewRetrying creates a retrying client. Requests are retried on
// connection errors, 429 and 5xx (except 501). After the last attempt the
// final response is returned as is so callers can decode the upstream
// error body.
func NewRetrying(opts Options) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.WaitMin > 0 {
		rc.RetryWaitMin = opts.WaitMin
	}
	if opts.WaitMax > 0 {
		rc.RetryWaitMax = opts.WaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Logger != nil {
		rc.Logger = leveled{opts.Logger.Named("http").Sugar()}
	} else {
		rc.Logger = nil
	}
	return rc
}

// NewStandard returns a retrying client behind the *http.Client interface.
func NewStandard(opts Options) *http.Client {
	c := NewRetrying(opts).StandardClient()
	c.Timeout = opts.Timeout
	return c
}

// leveled adapts zap to retryablehttp.LeveledLogger. Per-attempt chatter
// is kept at debug.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveled{}

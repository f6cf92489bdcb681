package airtable

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parlance-app/backend/internal/infrastructure/httpclient"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/infrastructure/resilience"
)

// DefaultBaseURL is the public Airtable REST endpoint.
const DefaultBaseURL = "https://api.airtable.com/v0"

const (
	maxPageSize    = 100
	maxBatchSize   = 10
	defaultRPS     = 5
	breakerName    = "airtable"
	requestTimeout = 30 * time.Second
)

// Config configures the client.
type Config struct {
	APIKey  string
	BaseID  string
	BaseURL string
	// RequestsPerSecond defaults to Airtable's per-base limit of 5.
	RequestsPerSecond float64
	HTTP              httpclient.Options
	Logger            *logging.Logger
	Metrics           *monitoring.Metrics
}

// Client talks to one Airtable base. Calls are rate limited, retried on
// throttling and server errors, and guarded by a circuit breaker.
type Client struct {
	resty   *resty.Client
	baseID  string
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// New creates a client. It performs no network I/O.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.BaseID == "" {
		return nil, errors.New("airtable: API key and base ID are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.HTTP == (httpclient.Options{}) {
		cfg.HTTP = httpclient.DefaultOptions()
	}
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = cfg.Logger
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	logger := cfg.Logger.Named("airtable")

	retrying := httpclient.NewRetrying(cfg.HTTP)
	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json").
		SetTransport(&retryablehttp.RoundTripper{Client: retrying}).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	metrics := cfg.Metrics
	breaker := resilience.New(breakerName, resilience.Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsFailure: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Retryable()
			}
			return err != nil
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			if metrics != nil {
				metrics.SetBreakerState(name, int(to))
			}
		},
	})

	return &Client{
		resty:   restyClient,
		baseID:  cfg.BaseID,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// BaseID returns the base this client is bound to.
func (c *Client) BaseID() string {
	return c.baseID
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// List returns every record matching opts, following pagination.
func (c *Client) List(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var (
		out    []Record
		offset string
	)
	for {
		q := opts.query()
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listResponse
		err := c.call(ctx, "list", &page, func(r *resty.Request) (*resty.Response, error) {
			return r.SetQueryParamsFromValues(q).Get(c.tablePath(table))
		})
		if err != nil {
			return nil, err
		}

		out = append(out, page.Records...)
		if opts.MaxRecords > 0 && len(out) >= opts.MaxRecords {
			return out[:opts.MaxRecords], nil
		}
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

// Get fetches one record by ID.
func (c *Client) Get(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	err := c.call(ctx, "get", &rec, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(c.tablePath(table) + "/" + url.PathEscape(id))
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts records, batching requests to the API's limit of ten.
func (c *Client) Create(ctx context.Context, table string, fields []Fields) ([]Record, error) {
	out := make([]Record, 0, len(fields))
	for start := 0; start < len(fields); start += maxBatchSize {
		end := min(start+maxBatchSize, len(fields))

		body := createRequest{Records: make([]createRecord, 0, end-start)}
		for _, f := range fields[start:end] {
			body.Records = append(body.Records, createRecord{Fields: f})
		}

		var created listResponse
		err := c.call(ctx, "create", &created, func(r *resty.Request) (*resty.Response, error) {
			return r.SetBody(body).Post(c.tablePath(table))
		})
		if err != nil {
			return out, err
		}
		out = append(out, created.Records...)
	}
	return out, nil
}

// Update merges fields into an existing record.
func (c *Client) Update(ctx context.Context, table, id string, fields Fields) (*Record, error) {
	var rec Record
	err := c.call(ctx, "update", &rec, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(updateRequest{Fields: fields}).Patch(c.tablePath(table) + "/" + url.PathEscape(id))
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping checks that the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var who whoami
	return c.call(ctx, "ping", &who, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/meta/whoami")
	})
}

func (c *Client) tablePath(table string) string {
	return "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table)
}

func (c *Client) call(ctx context.Context, op string, result any, do func(*resty.Request) (*resty.Response, error)) error {
	timer := monitoring.NewTimer(c.metrics, op)

	if err := c.limiter.Wait(ctx); err != nil {
		timer.Stop("cancelled")
		return fmt.Errorf("airtable %s: %w", op, err)
	}

	err := c.breaker.Run(ctx, func(ctx context.Context) error {
		envelope := &errorEnvelope{}
		req := c.resty.R().SetContext(ctx).SetError(envelope)
		if result != nil {
			req.SetResult(result)
		}

		resp, err := do(req)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return envelope.apiError(resp.StatusCode())
		}
		return nil
	})

	timer.Stop(outcome(err))
	if err != nil {
		c.logger.Debug("call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("airtable %s: %w", op, err)
	}
	return nil
}

func outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "rejected"
	case errors.As(err, &apiErr) && !apiErr.Retryable():
		return "client_error"
	default:
		return "error"
	}
}

package airtable

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ErrNotFound matches 404 responses.
var ErrNotFound = errors.New("airtable: not found")

// Fields holds a record's cell values keyed by field name.
type Fields map[string]any

// Record is one Airtable row.
type Record struct {
	ID          string `json:"id" msgpack:"id"`
	CreatedTime string `json:"createdTime,omitempty" msgpack:"created_time"`
	Fields      Fields `json:"fields" msgpack:"fields"`
}

// Sort orders list results by one field.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// ListOptions narrows a List call. The zero value lists every record.
type ListOptions struct {
	Fields          []string `json:"fields,omitempty"`
	FilterByFormula string   `json:"filterByFormula,omitempty"`
	Sort            []Sort   `json:"sort,omitempty"`
	View            string   `json:"view,omitempty"`
	PageSize        int      `json:"pageSize,omitempty"`
	MaxRecords      int      `json:"maxRecords,omitempty"`
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	for _, f := range o.Fields {
		q.Add("fields[]", f)
	}
	if o.FilterByFormula != "" {
		q.Set("filterByFormula", o.FilterByFormula)
	}
	for i, s := range o.Sort {
		q.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
		if s.Direction != "" {
			q.Set(fmt.Sprintf("sort[%d][direction]", i), s.Direction)
		}
	}
	if o.View != "" {
		q.Set("view", o.View)
	}
	if o.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(min(o.PageSize, maxPageSize)))
	}
	if o.MaxRecords > 0 {
		q.Set("maxRecords", strconv.Itoa(o.MaxRecords))
	}
	return q
}

// APIError is a non-2xx answer from the Airtable API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("airtable: %d %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("airtable: %d %s", e.Status, e.Type)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Retryable reports whether the upstream is throttling or failing, as
// opposed to rejecting the request.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// errorEnvelope covers both error shapes Airtable uses:
// {"error":"NOT_FOUND"} and {"error":{"type":"...","message":"..."}}.
type errorEnvelope struct {
	Error any `json:"error"`
}

func (e *errorEnvelope) apiError(status int) *APIError {
	out := &APIError{Status: status, Type: http.StatusText(status)}
	switch v := e.Error.(type) {
	case string:
		out.Type = v
	case map[string]any:
		if t, ok := v["type"].(string); ok {
			out.Type = t
		}
		if m, ok := v["message"].(string); ok {
			out.Message = m
		}
	}
	return out
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

type createRequest struct {
	Records  []createRecord `json:"records"`
	Typecast bool           `json:"typecast,omitempty"`
}

type createRecord struct {
	Fields Fields `json:"fields"`
}

type updateRequest struct {
	Fields Fields `json:"fields"`
}

type whoami struct {
	ID string `json:"id"`
}

package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parlance-app/backend/internal/airtable"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) List(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error) {
	args := m.Called(ctx, table, opts)
	records, _ := args.Get(0).([]airtable.Record)
	return records, args.Error(1)
}

func rec(date string, status any) airtable.Record {
	return airtable.Record{Fields: airtable.Fields{"Date": date, "Status": status}}
}

func day(s string) time.Time {
	t, _ := time.Parse(DateLayout, s)
	return t
}

func TestSummarize(t *testing.T) {
	records := []airtable.Record{
		rec("2024-05-01", "done"),
		rec("2024-05-01T18:30:00.000Z", "done"),
		rec("2024-05-02", "abandoned"),
		rec("2024-05-03", nil),
		rec("2024-04-30", "done"),
		rec("2024-05-04", "done"),
		rec("not a date", "done"),
		{Fields: airtable.Fields{"Status": "done"}},
	}

	s := Summarize(records, "Date", "Status", day("2024-05-01"), day("2024-05-04"))

	assert.Equal(t, "2024-05-01", s.From)
	assert.Equal(t, "2024-05-04", s.To)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, []Count{
		{Key: "2024-05-01", Count: 2},
		{Key: "2024-05-02", Count: 1},
		{Key: "2024-05-03", Count: 1},
	}, s.ByDay)
	assert.Equal(t, []Count{
		{Key: "done", Count: 2},
		{Key: "(none)", Count: 1},
		{Key: "abandoned", Count: 1},
	}, s.ByGroup)
}

func TestSummarizeWithoutGroupField(t *testing.T) {
	s := Summarize([]airtable.Record{rec("2024-05-01", "done")}, "Date", "", day("2024-05-01"), day("2024-05-02"))
	assert.Equal(t, 1, s.Total)
	assert.Empty(t, s.ByGroup)
}

func TestServiceSummary(t *testing.T) {
	source := &mockSource{}
	source.On("List", mock.Anything, "Sessions", airtable.ListOptions{Fields: []string{"Date", "Status"}}).
		Return([]airtable.Record{rec("2024-05-01", "done")}, nil).Once()

	svc := &Service{Source: source, Table: "Sessions", DateField: "Date", GroupField: "Status"}
	s, err := svc.Summary(context.Background(), day("2024-05-01"), day("2024-05-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
	source.AssertExpectations(t)
}

func TestServiceSummaryErrors(t *testing.T) {
	source := &mockSource{}
	source.On("List", mock.Anything, "Sessions", mock.Anything).Return(nil, errors.New("upstream"))

	svc := &Service{Source: source, Table: "Sessions", DateField: "Date"}
	_, err := svc.Summary(context.Background(), day("2024-05-01"), day("2024-05-02"))
	assert.ErrorContains(t, err, "upstream")

	_, err = svc.Summary(context.Background(), day("2024-05-02"), day("2024-05-01"))
	assert.Error(t, err)
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC)

	from, to, err := ParseWindow("", "", now)
	require.NoError(t, err)
	assert.Equal(t, day("2024-06-01"), to)
	assert.Equal(t, day("2024-05-02"), from)

	from, to, err = ParseWindow("2024-05-01", "2024-05-03", now)
	require.NoError(t, err)
	assert.Equal(t, day("2024-05-01"), from)
	assert.Equal(t, day("2024-05-04"), to)

	_, _, err = ParseWindow("May 1", "", now)
	assert.Error(t, err)
	_, _, err = ParseWindow("2024-05-05", "2024-05-01", now)
	assert.Error(t, err)
}

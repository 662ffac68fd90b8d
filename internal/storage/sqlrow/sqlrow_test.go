package sqlrow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backfill/internal/records"
)

func TestObservationFromTextValues(t *testing.T) {
	t.Parallel()

	vals := map[string]any{
		"project_id":             "project1",
		"id":                     "obs1",
		"trace_id":               "trace1",
		"type":                   "SPAN",
		"parent_observation_id":  nil,
		"start_time":             "2025-11-03 10:00:00.000",
		"end_time":               nil,
		"name":                   nil,
		"environment":            "default",
		"version":                nil,
		"level":                  "DEFAULT",
		"status_message":         nil,
		"completion_start_time":  []byte("2025-11-03T10:00:01Z"),
		"prompt_id":              nil,
		"prompt_name":            nil,
		"prompt_version":         int64(3),
		"internal_model_id":      nil,
		"provided_model_name":    "gpt",
		"model_parameters":       `{"temperature":0.2}`,
		"provided_usage_details": `{"input":12}`,
		"usage_details":          "",
		"provided_cost_details":  nil,
		"cost_details":           `{"total":0.000000000001}`,
		"input":                  nil,
		"output":                 "out",
		"metadata":               `{"a":"x","b":{"c":1}}`,
		"created_at":             time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
		"updated_at":             "2025-11-03 10:00:00",
		"event_ts":               "2025-11-03 10:00:00.000",
	}
	row := make([]any, len(records.ObservationColumns))
	for i, c := range records.ObservationColumns {
		row[i] = vals[c]
	}

	o, err := Observation(records.ObservationColumns, row)
	require.NoError(t, err)
	require.Equal(t, "obs1", o.ID)
	require.Nil(t, o.ParentObservationID)
	require.Equal(t, time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), o.StartTime)
	require.Nil(t, o.EndTime)
	require.NotNil(t, o.CompletionStartTime)
	require.Equal(t, "", o.Name)
	require.EqualValues(t, 3, *o.PromptVersion)
	require.Equal(t, `{"temperature":0.2}`, *o.ModelParameters)
	require.Equal(t, json.Number("12"), o.ProvidedUsageDetails["input"])
	require.Nil(t, o.UsageDetails)
	require.Equal(t, json.Number("0.000000000001"), o.CostDetails["total"])
	require.Equal(t, "x", o.Metadata["a"])
}

func TestTraceFromValues(t *testing.T) {
	t.Parallel()

	row := []any{"p", "t1", nil, "s1", `{"env":"prod","n":2}`, `["a","b"]`, int64(1), []byte("0"), nil}
	tr, err := Trace(records.TraceColumns, row)
	require.NoError(t, err)
	require.Nil(t, tr.UserID)
	require.Equal(t, "s1", *tr.SessionID)
	require.Equal(t, map[string]string{"env": "prod", "n": "2"}, tr.Metadata)
	require.Equal(t, []string{"a", "b"}, tr.Tags)
	require.True(t, tr.Public)
	require.False(t, tr.Bookmarked)
	require.Nil(t, tr.Release)
}

func TestBindErrors(t *testing.T) {
	t.Parallel()

	_, err := Trace([]string{"project_id"}, []any{"a", "b"})
	require.Error(t, err)
	_, err = Trace([]string{"bogus"}, []any{"a"})
	require.Error(t, err)
	_, err = Trace([]string{"metadata"}, []any{"{broken"})
	require.Error(t, err)
	_, err = Observation([]string{"prompt_version"}, []any{int64(70000)})
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	var nilTime *time.Time
	v := uint16(4)

	cases := []struct {
		in     any
		layout string
		want   any
	}{
		{map[string]uint64{"input": 1}, "", `{"input":1}`},
		{[]string{"a", "b"}, "", `["a","b"]`},
		{true, "", int64(1)},
		{uint8(0), "", int64(0)},
		{nilTime, "", nil},
		{&ts, "2006-01-02 15:04:05.000", "2025-11-03 10:00:00.000"},
		{ts, "", ts},
		{&v, "", int64(4)},
		{"plain", "", "plain"},
	}
	for _, c := range cases {
		got, err := Encode(c.in, c.layout)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

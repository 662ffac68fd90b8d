package transformer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"backfill/internal/records"
	"backfill/internal/sidetable"
)

func strp(s string) *string { return &s }

func TestProjectOneTraceOneScenario(t *testing.T) {
	t.Parallel()
	table := sidetable.Table{
		{ProjectID: "project1", TraceID: "trace1"}: {Bookmarked: true, Metadata: map[string]string{}},
	}

	root, err := Transform(&records.Observation{ProjectID: "project1", ID: "t-trace1", TraceID: "trace1"}, table)
	require.NoError(t, err)
	require.Equal(t, "", root.ParentSpanID)
	require.True(t, root.Bookmarked)

	child, err := Transform(&records.Observation{
		ProjectID: "project1", ID: "obs1", TraceID: "trace1", ParentObservationID: strp("t-trace1"),
	}, table)
	require.NoError(t, err)
	require.Equal(t, "t-trace1", child.ParentSpanID)
	require.False(t, child.Bookmarked)
}

func TestParentAndBookmarkInvariants(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	table := sidetable.Table{}
	for i := 0; i < 4; i++ {
		table[sidetable.Key{ProjectID: "p", TraceID: fmt.Sprintf("tr%d", i)}] = sidetable.Attrs{Bookmarked: i%2 == 0}
	}

	for i := 0; i < 500; i++ {
		traceID := fmt.Sprintf("tr%d", rng.Intn(5))
		o := records.Observation{ProjectID: "p", TraceID: traceID, ID: fmt.Sprintf("o%d", i)}
		switch rng.Intn(4) {
		case 0:
			o.ID = RootID(traceID)
		case 1:
			o.ParentObservationID = strp("")
		case 2:
			o.ParentObservationID = strp(fmt.Sprintf("o%d", rng.Intn(500)))
		}
		if rng.Intn(8) == 0 {
			o.ParentObservationID = strp("x")
			o.ID = RootID(traceID)
		}

		ev, err := Transform(&o, table)
		require.NoError(t, err)
		if o.ID == RootID(traceID) {
			require.Empty(t, ev.ParentSpanID, "root %s", o.ID)
		} else {
			require.NotEmpty(t, ev.ParentSpanID, "non-root %s", o.ID)
		}
		if ev.Bookmarked {
			require.Empty(t, ev.ParentSpanID)
			require.True(t, o.ParentObservationID == nil || *o.ParentObservationID == "")
		}
	}
}

func TestMissingTraceUsesDefaults(t *testing.T) {
	t.Parallel()
	ev, err := Transform(&records.Observation{ProjectID: "p", ID: "o", TraceID: "unknown"}, sidetable.Table{})
	require.NoError(t, err)
	require.Equal(t, "t-unknown", ev.ParentSpanID)
	require.Empty(t, ev.UserID)
	require.Empty(t, ev.SessionID)
	require.Empty(t, ev.Release)
	require.False(t, ev.Public)
	require.Empty(t, ev.MetadataNames)
	require.NotNil(t, ev.UsageDetails)
	require.NotNil(t, ev.CostDetails)
	require.Equal(t, "{}", ev.ModelParameters)
	require.Equal(t, SourceIngestionAPI, ev.Source)
	require.Zero(t, ev.EventBytes)
	require.Zero(t, ev.IsDeleted)
}

func TestMetadataMergeRoundTrip(t *testing.T) {
	t.Parallel()
	table := sidetable.Table{
		{ProjectID: "p", TraceID: "t"}: {Metadata: map[string]string{"env": "trace", "region": "eu"}},
	}
	o := records.Observation{
		ProjectID: "p", ID: "o", TraceID: "t",
		Metadata: map[string]any{
			"env":                "obs",
			"count":              json.Number("3"),
			"nested":             map[string]any{"a": true},
			"resourceAttributes": map[string]any{"service.name": "api"},
		},
	}
	ev, err := Transform(&o, table)
	require.NoError(t, err)
	require.Equal(t, SourceOTel, ev.Source)
	require.Equal(t, []string{"count", "env", "nested", "region", "resourceAttributes"}, ev.MetadataNames)
	require.Len(t, ev.MetadataRawValues, len(ev.MetadataNames))

	got := map[string]string{}
	for i, k := range ev.MetadataNames {
		got[k] = ev.MetadataRawValues[i]
	}
	require.Equal(t, map[string]string{
		"count":              "3",
		"env":                "trace",
		"nested":             `{"a":true}`,
		"region":             "eu",
		"resourceAttributes": `{"service.name":"api"}`,
	}, got)
}

func TestOTelMarkerOnlyFromObservation(t *testing.T) {
	t.Parallel()
	table := sidetable.Table{
		{ProjectID: "p", TraceID: "t"}: {Metadata: map[string]string{"resourceAttributes": "{}"}},
	}
	ev, err := Transform(&records.Observation{ProjectID: "p", ID: "o", TraceID: "t"}, table)
	require.NoError(t, err)
	require.Equal(t, SourceIngestionAPI, ev.Source)
}

func TestModelParameters(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"":                    "{}",
		"null":                "{}",
		`{"temperature":0.2}`: `{"temperature":0.2}`,
		`"plain"`:             `"plain"`,
		"temperature=0.2":     `"temperature=0.2"`,
	} {
		require.Equal(t, want, modelParameters(strp(in)), in)
	}
	require.Equal(t, "{}", modelParameters(nil))
}

func TestUsageAndCostNormalization(t *testing.T) {
	t.Parallel()
	o := records.Observation{
		ProjectID: "p", ID: "o", TraceID: "t",
		UsageDetails: map[string]any{
			"input":  uint64(12),
			"output": json.Number("30"),
			"total":  "42",
			"cached": 2.0,
		},
		ProvidedUsageDetails: map[string]any{"input": int32(5)},
		CostDetails: map[string]any{
			"input":  apd.New(15, -7),
			"output": decimal.RequireFromString("0.0000000000125"),
			"total":  "0.0000000000135",
			"extra":  0.5,
		},
		ProvidedCostDetails: map[string]any{"total": json.Number("1.25")},
	}
	ev, err := Transform(&o, sidetable.Table{})
	require.NoError(t, err)
	require.Equal(t, map[string]uint64{"input": 12, "output": 30, "total": 42, "cached": 2}, ev.UsageDetails)
	require.Equal(t, map[string]uint64{"input": 5}, ev.ProvidedUsageDetails)
	require.Equal(t, map[string]float64{
		"input":  0.0000015,
		"output": 0.000000000012,
		"total":  0.000000000014,
		"extra":  0.5,
	}, ev.CostDetails)
	require.Equal(t, map[string]float64{"total": 1.25}, ev.ProvidedCostDetails)
}

func TestBadNumbersAreRowErrors(t *testing.T) {
	t.Parallel()
	for name, o := range map[string]records.Observation{
		"negative usage": {UsageDetails: map[string]any{"input": -1}},
		"text usage":     {ProvidedUsageDetails: map[string]any{"input": "many"}},
		"bool cost":      {CostDetails: map[string]any{"total": true}},
		"nan cost":       {ProvidedCostDetails: map[string]any{"total": "NaN"}},
		"nil usage":      {UsageDetails: map[string]any{"input": nil}},
	} {
		o.ProjectID, o.ID, o.TraceID = "p", "o", "t"
		_, err := Transform(&o, sidetable.Table{})
		require.Error(t, err, name)
		require.True(t, Error.Has(err), name)
	}
}

func TestTransformIsDeterministic(t *testing.T) {
	t.Parallel()
	end := time.Date(2025, time.November, 3, 10, 0, 1, 0, time.UTC)
	o := records.Observation{
		ProjectID: "p", ID: "o", TraceID: "t", Type: "GENERATION",
		StartTime: end.Add(-time.Second), EndTime: &end,
		Metadata:     map[string]any{"b": "2", "a": 1, "c": []any{"x"}},
		UsageDetails: map[string]any{"input": 1},
	}
	table := sidetable.Table{{ProjectID: "p", TraceID: "t"}: {UserID: "u", Metadata: map[string]string{"z": "9"}}}

	first, err := Transform(&o, table)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Transform(&o, table)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, []string{"a", "b", "c", "z"}, first.MetadataNames)
	require.Equal(t, []string{"1", "2", `["x"]`, "9"}, first.MetadataRawValues)
}

func BenchmarkTransform(b *testing.B) {
	table := sidetable.Table{
		{ProjectID: "p", TraceID: "tr"}: {
			UserID:   "u",
			Metadata: map[string]string{"env": "prod", sidetable.TagsKey: `["a","b"]`},
			Tags:     []string{"a", "b"},
		},
	}
	o := records.Observation{
		ProjectID:            "p",
		ID:                   "o1",
		TraceID:              "tr",
		ParentObservationID:  strp("o0"),
		Metadata:             map[string]any{"k": "v", "n": 3},
		ProvidedUsageDetails: map[string]any{"input": 10, "output": json.Number("20")},
		CostDetails:          map[string]any{"total": "0.000123456789012"},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Transform(&o, table); err != nil {
			b.Fatal(err)
		}
	}
}

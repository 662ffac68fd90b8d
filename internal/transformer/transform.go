// Package transformer denormalizes one observation and its trace attributes
// into one events row. Transform is pure: the same inputs always yield the
// same event, and bad input yields an error instead of a panic.
package transformer

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"backfill/internal/records"
	"backfill/internal/sidetable"
)

// Error is the error class of row transforms. A transform error skips the
// row; it never aborts the run.
var Error = errs.Class("transform")

const (
	// SourceOTel marks events ingested through OpenTelemetry.
	SourceOTel = "otel"
	// SourceIngestionAPI marks every other event.
	SourceIngestionAPI = "ingestion-api"

	otelMarker = "resourceAttributes"
)

// RootID returns the synthetic span id of the root span of traceID.
func RootID(traceID string) string { return "t-" + traceID }

// Transform builds the events row of o. Missing trace attributes default to
// their zero values.
func Transform(o *records.Observation, table sidetable.Table) (records.Event, error) {
	attrs, _ := table.Lookup(o.ProjectID, o.TraceID)

	parentRef := ""
	if o.ParentObservationID != nil {
		parentRef = *o.ParentObservationID
	}
	root := RootID(o.TraceID)
	parent := parentRef
	switch {
	case o.ID == root:
		parent = ""
	case parent == "":
		parent = root
	}

	names, values, err := flattenMetadata(o.Metadata, attrs.Metadata)
	if err != nil {
		return records.Event{}, rowErr(o, err)
	}

	ev := records.Event{
		ProjectID:           o.ProjectID,
		TraceID:             o.TraceID,
		SpanID:              o.ID,
		ParentSpanID:        parent,
		StartTime:           o.StartTime,
		EndTime:             o.EndTime,
		Name:                o.Name,
		Type:                o.Type,
		Environment:         o.Environment,
		Version:             o.Version,
		Release:             attrs.Release,
		UserID:              attrs.UserID,
		SessionID:           attrs.SessionID,
		Public:              attrs.Public,
		Bookmarked:          attrs.Bookmarked && parentRef == "" && parent == "",
		Level:               o.Level,
		StatusMessage:       o.StatusMessage,
		CompletionStartTime: o.CompletionStartTime,
		PromptID:            o.PromptID,
		PromptName:          o.PromptName,
		PromptVersion:       o.PromptVersion,
		ModelID:             o.InternalModelID,
		ProvidedModelName:   o.ProvidedModelName,
		ModelParameters:     modelParameters(o.ModelParameters),
		Input:               o.Input,
		Output:              o.Output,
		MetadataNames:       names,
		MetadataRawValues:   values,
		Source:              source(o.Metadata),
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		EventTs:             o.EventTs,
	}

	if ev.ProvidedUsageDetails, err = usageMap("provided_usage_details", o.ProvidedUsageDetails); err != nil {
		return records.Event{}, rowErr(o, err)
	}
	if ev.UsageDetails, err = usageMap("usage_details", o.UsageDetails); err != nil {
		return records.Event{}, rowErr(o, err)
	}
	if ev.ProvidedCostDetails, err = costMap("provided_cost_details", o.ProvidedCostDetails); err != nil {
		return records.Event{}, rowErr(o, err)
	}
	if ev.CostDetails, err = costMap("cost_details", o.CostDetails); err != nil {
		return records.Event{}, rowErr(o, err)
	}
	return ev, nil
}

func rowErr(o *records.Observation, err error) error {
	return Error.New("observation %s/%s: %v", o.ProjectID, o.ID, err)
}

func source(meta map[string]any) string {
	if _, ok := meta[otelMarker]; ok {
		return SourceOTel
	}
	return SourceIngestionAPI
}

// flattenMetadata overlays trace metadata onto observation metadata and
// returns parallel name/value lists sorted by name. String values are kept
// as-is; everything else is JSON-encoded.
func flattenMetadata(obs map[string]any, trace map[string]string) ([]string, []string, error) {
	merged := make(map[string]string, len(obs)+len(trace))
	for k, v := range obs {
		s, err := rawValue(v)
		if err != nil {
			return nil, nil, Error.New("metadata[%s]: %v", k, err)
		}
		merged[k] = s
	}
	for k, v := range trace {
		merged[k] = v
	}

	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = merged[k]
	}
	return names, values, nil
}

func rawValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// modelParameters always yields a JSON document.
func modelParameters(p *string) string {
	if p == nil {
		return "{}"
	}
	s := strings.TrimSpace(*p)
	if s == "" || s == "null" {
		return "{}"
	}
	if json.Valid([]byte(s)) {
		return *p
	}
	b, _ := json.Marshal(*p)
	return string(b)
}

package clickhouse

import (
	"time"

	"github.com/shopspring/decimal"

	"backfill/internal/records"
)

// scanObservation mirrors the ClickHouse column types of observations.
// Nullable columns scan into pointers and collapse to "" in record.
type scanObservation struct {
	projectID           string
	id                  string
	traceID             string
	typ                 string
	parentObservationID *string
	startTime           time.Time
	endTime             *time.Time
	name                *string
	environment         *string
	version             *string
	level               *string
	statusMessage       *string
	completionStartTime *time.Time
	promptID            *string
	promptName          *string
	promptVersion       *uint16
	internalModelID     *string
	providedModelName   *string
	modelParameters     *string

	providedUsageDetails map[string]uint64
	usageDetails         map[string]uint64
	providedCostDetails  map[string]decimal.Decimal
	costDetails          map[string]decimal.Decimal

	input    *string
	output   *string
	metadata map[string]string

	createdAt time.Time
	updatedAt time.Time
	eventTs   time.Time
}

// Field returns the scan destination bound to column.
func (s *scanObservation) Field(column string) any {
	switch column {
	case "project_id":
		return &s.projectID
	case "id":
		return &s.id
	case "trace_id":
		return &s.traceID
	case "type":
		return &s.typ
	case "parent_observation_id":
		return &s.parentObservationID
	case "start_time":
		return &s.startTime
	case "end_time":
		return &s.endTime
	case "name":
		return &s.name
	case "environment":
		return &s.environment
	case "version":
		return &s.version
	case "level":
		return &s.level
	case "status_message":
		return &s.statusMessage
	case "completion_start_time":
		return &s.completionStartTime
	case "prompt_id":
		return &s.promptID
	case "prompt_name":
		return &s.promptName
	case "prompt_version":
		return &s.promptVersion
	case "internal_model_id":
		return &s.internalModelID
	case "provided_model_name":
		return &s.providedModelName
	case "model_parameters":
		return &s.modelParameters
	case "provided_usage_details":
		return &s.providedUsageDetails
	case "usage_details":
		return &s.usageDetails
	case "provided_cost_details":
		return &s.providedCostDetails
	case "cost_details":
		return &s.costDetails
	case "input":
		return &s.input
	case "output":
		return &s.output
	case "metadata":
		return &s.metadata
	case "created_at":
		return &s.createdAt
	case "updated_at":
		return &s.updatedAt
	case "event_ts":
		return &s.eventTs
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *scanObservation) record() records.Observation {
	return records.Observation{
		ProjectID:            s.projectID,
		ID:                   s.id,
		TraceID:              s.traceID,
		Type:                 s.typ,
		ParentObservationID:  s.parentObservationID,
		StartTime:            s.startTime,
		EndTime:              s.endTime,
		Name:                 str(s.name),
		Environment:          str(s.environment),
		Version:              str(s.version),
		Level:                str(s.level),
		StatusMessage:        str(s.statusMessage),
		CompletionStartTime:  s.completionStartTime,
		PromptID:             str(s.promptID),
		PromptName:           str(s.promptName),
		PromptVersion:        s.promptVersion,
		InternalModelID:      str(s.internalModelID),
		ProvidedModelName:    str(s.providedModelName),
		ModelParameters:      s.modelParameters,
		ProvidedUsageDetails: anyMap(s.providedUsageDetails),
		UsageDetails:         anyMap(s.usageDetails),
		ProvidedCostDetails:  anyMap(s.providedCostDetails),
		CostDetails:          anyMap(s.costDetails),
		Input:                str(s.input),
		Output:               str(s.output),
		Metadata:             anyMap(s.metadata),
		CreatedAt:            s.createdAt,
		UpdatedAt:            s.updatedAt,
		EventTs:              s.eventTs,
	}
}

func anyMap[V any](m map[string]V) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

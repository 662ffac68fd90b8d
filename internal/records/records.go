// Package records defines the row types that flow through the backfill:
// trace rows feeding the side-table, observation rows read page by page, and
// the wide event rows written to the destination.
package records

import "time"

// TraceRow is one row of the traces table as returned by a storage.Source.
// Nullable columns stay nil; the side-table loader owns their defaults.
type TraceRow struct {
	ProjectID  string
	ID         string
	UserID     *string
	SessionID  *string
	Metadata   map[string]string
	Tags       []string
	Public     bool
	Bookmarked bool
	Release    *string
}

// Observation is one row of the observations table. Backends populate it by
// column name through ObservationColumns, never by position.
//
// ParentObservationID keeps its nil-ness because root detection depends on it.
// The map-typed payloads hold whatever numeric representation the driver
// produced (uint64, decimal, json.Number, ...); the transformer normalizes them.
type Observation struct {
	ProjectID           string
	ID                  string
	TraceID             string
	Type                string
	ParentObservationID *string
	StartTime           time.Time
	EndTime             *time.Time
	Name                string
	Environment         string
	Version             string
	Level               string
	StatusMessage       string
	CompletionStartTime *time.Time
	PromptID            string
	PromptName          string
	PromptVersion       *uint16
	InternalModelID     string
	ProvidedModelName   string
	ModelParameters     *string

	ProvidedUsageDetails map[string]any
	UsageDetails         map[string]any
	ProvidedCostDetails  map[string]any
	CostDetails          map[string]any

	Input    string
	Output   string
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	EventTs   time.Time
}

// ObservationColumns lists the source columns selected for observations, in
// the order backends select them. Field binds each name to its struct field.
var ObservationColumns = []string{
	"project_id",
	"id",
	"trace_id",
	"type",
	"parent_observation_id",
	"start_time",
	"end_time",
	"name",
	"environment",
	"version",
	"level",
	"status_message",
	"completion_start_time",
	"prompt_id",
	"prompt_name",
	"prompt_version",
	"internal_model_id",
	"provided_model_name",
	"model_parameters",
	"provided_usage_details",
	"usage_details",
	"provided_cost_details",
	"cost_details",
	"input",
	"output",
	"metadata",
	"created_at",
	"updated_at",
	"event_ts",
}

// TraceColumns lists the source columns selected for the side-table.
var TraceColumns = []string{
	"project_id",
	"id",
	"user_id",
	"session_id",
	"metadata",
	"tags",
	"public",
	"bookmarked",
	"release",
}

// Field returns a pointer to the field of o bound to the named source column,
// or nil when the column is unknown. Backends scan into these pointers so the
// SELECT list and the struct can never drift apart silently.
func (o *Observation) Field(column string) any {
	switch column {
	case "project_id":
		return &o.ProjectID
	case "id":
		return &o.ID
	case "trace_id":
		return &o.TraceID
	case "type":
		return &o.Type
	case "parent_observation_id":
		return &o.ParentObservationID
	case "start_time":
		return &o.StartTime
	case "end_time":
		return &o.EndTime
	case "name":
		return &o.Name
	case "environment":
		return &o.Environment
	case "version":
		return &o.Version
	case "level":
		return &o.Level
	case "status_message":
		return &o.StatusMessage
	case "completion_start_time":
		return &o.CompletionStartTime
	case "prompt_id":
		return &o.PromptID
	case "prompt_name":
		return &o.PromptName
	case "prompt_version":
		return &o.PromptVersion
	case "internal_model_id":
		return &o.InternalModelID
	case "provided_model_name":
		return &o.ProvidedModelName
	case "model_parameters":
		return &o.ModelParameters
	case "provided_usage_details":
		return &o.ProvidedUsageDetails
	case "usage_details":
		return &o.UsageDetails
	case "provided_cost_details":
		return &o.ProvidedCostDetails
	case "cost_details":
		return &o.CostDetails
	case "input":
		return &o.Input
	case "output":
		return &o.Output
	case "metadata":
		return &o.Metadata
	case "created_at":
		return &o.CreatedAt
	case "updated_at":
		return &o.UpdatedAt
	case "event_ts":
		return &o.EventTs
	}
	return nil
}

// Field returns a pointer to the field of t bound to the named source column.
func (t *TraceRow) Field(column string) any {
	switch column {
	case "project_id":
		return &t.ProjectID
	case "id":
		return &t.ID
	case "user_id":
		return &t.UserID
	case "session_id":
		return &t.SessionID
	case "metadata":
		return &t.Metadata
	case "tags":
		return &t.Tags
	case "public":
		return &t.Public
	case "bookmarked":
		return &t.Bookmarked
	case "release":
		return &t.Release
	}
	return nil
}

// Event is one destination row of the events table.
type Event struct {
	ProjectID           string
	TraceID             string
	SpanID              string
	ParentSpanID        string
	StartTime           time.Time
	EndTime             *time.Time
	Name                string
	Type                string
	Environment         string
	Version             string
	Release             string
	UserID              string
	SessionID           string
	Public              bool
	Bookmarked          bool
	Level               string
	StatusMessage       string
	CompletionStartTime *time.Time
	PromptID            string
	PromptName          string
	PromptVersion       *uint16
	ModelID             string
	ProvidedModelName   string
	ModelParameters     string

	ProvidedUsageDetails map[string]uint64
	UsageDetails         map[string]uint64
	ProvidedCostDetails  map[string]float64
	CostDetails          map[string]float64

	Input             string
	Output            string
	MetadataNames     []string
	MetadataRawValues []string
	Source            string
	EventBytes        uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	EventTs           time.Time
	IsDeleted         uint8
}

// EventColumns is the destination column order used by Event.Values.
var EventColumns = []string{
	"project_id",
	"trace_id",
	"span_id",
	"parent_span_id",
	"start_time",
	"end_time",
	"name",
	"type",
	"environment",
	"version",
	"release",
	"user_id",
	"session_id",
	"public",
	"bookmarked",
	"level",
	"status_message",
	"completion_start_time",
	"prompt_id",
	"prompt_name",
	"prompt_version",
	"model_id",
	"provided_model_name",
	"model_parameters",
	"provided_usage_details",
	"usage_details",
	"provided_cost_details",
	"cost_details",
	"input",
	"output",
	"metadata_names",
	"metadata_raw_values",
	"source",
	"event_bytes",
	"created_at",
	"updated_at",
	"event_ts",
	"is_deleted",
}

// Columns returns the destination column names for e.
func (e *Event) Columns() []string { return EventColumns }

// Values returns the row aligned with Columns.
func (e *Event) Values() []any {
	return []any{
		e.ProjectID,
		e.TraceID,
		e.SpanID,
		e.ParentSpanID,
		e.StartTime,
		e.EndTime,
		e.Name,
		e.Type,
		e.Environment,
		e.Version,
		e.Release,
		e.UserID,
		e.SessionID,
		e.Public,
		e.Bookmarked,
		e.Level,
		e.StatusMessage,
		e.CompletionStartTime,
		e.PromptID,
		e.PromptName,
		e.PromptVersion,
		e.ModelID,
		e.ProvidedModelName,
		e.ModelParameters,
		e.ProvidedUsageDetails,
		e.UsageDetails,
		e.ProvidedCostDetails,
		e.CostDetails,
		e.Input,
		e.Output,
		e.MetadataNames,
		e.MetadataRawValues,
		e.Source,
		e.EventBytes,
		e.CreatedAt,
		e.UpdatedAt,
		e.EventTs,
		e.IsDeleted,
	}
}

// SampleID identifies an event in logs as project_id/span_id.
func (e *Event) SampleID() string { return e.ProjectID + "/" + e.SpanID }

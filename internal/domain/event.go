package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the result topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Input formats accepted in a forecast request.
const (
	InputNetCDF = "netcdf"
	InputFields = "fields"
)

// Result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ForecastRequest asks for one forecast run.
type ForecastRequest struct {
	ID            string    `json:"id"`
	ModelVersion  string    `json:"model_version,omitempty"`
	InitTime      time.Time `json:"init_time,omitzero"`
	LeadTimeHours int       `json:"lead_time_hours"`
	InputFormat   string    `json:"input_format"`

	// NetCDF input: single-level and pressure-level files.
	SurfacePath  string `json:"surface_path,omitempty"`
	PressurePath string `json:"pressure_path,omitempty"`

	// Field-list input: an npz archive of "{param}{level}" entries.
	FieldsPath string `json:"fields_path,omitempty"`

	// OutputDir overrides the configured output folder.
	OutputDir string `json:"output_dir,omitempty"`
}

// Steps is the number of autoregressive iterations, truncating any
// remainder shorter than one step.
func (r ForecastRequest) Steps() int { return r.LeadTimeHours / HourSteps }

// ForecastResult reports the outcome of a forecast request.
type ForecastResult struct {
	RequestID     string    `json:"request_id"`
	ModelVersion  string    `json:"model_version"`
	Status        string    `json:"status"`
	InitTime      time.Time `json:"init_time"`
	LeadTimeHours int       `json:"lead_time_hours"`
	Steps         int       `json:"steps"`
	OutputPaths   []string  `json:"output_paths,omitempty"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// PipelineStatus is a point-in-time summary of the request consumer.
type PipelineStatus struct {
	Running       bool      `json:"running"`
	Ready         bool      `json:"ready"`
	Consumed      int64     `json:"consumed"`
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	LastRequestID string    `json:"last_request_id,omitempty"`
	LastStatus    string    `json:"last_status,omitempty"`
	LastCompleted time.Time `json:"last_completed,omitzero"`
}

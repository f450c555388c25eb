package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest wraps every forecast request validation failure.
	ErrInvalidRequest = errors.New("invalid forecast request")

	// ErrUnknownModelVersion is returned for versions no model is registered for.
	ErrUnknownModelVersion = errors.New("unknown model version")
)

// ModelName is the canonical name every supported version resolves to.
const ModelName = "fourcastnetv2"

// DefaultModelVersion is used when a request does not name one.
const DefaultModelVersion = "latest"

var modelVersions = map[string]string{
	"0":       ModelName,
	"small":   ModelName,
	"release": ModelName,
	"latest":  ModelName,
}

// ResolveModelVersion maps a requested version to the model implementing it.
func ResolveModelVersion(version string) (string, error) {
	if version == "" {
		version = DefaultModelVersion
	}
	name, ok := modelVersions[version]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModelVersion, version)
	}
	return name, nil
}

// ParseForecastRequest decodes and validates a request message. A missing
// ID is taken from the message key or replaced by a random UUID, and a zero
// lead time by defaultLeadHours. The returned request carries its ID even
// when err is non-nil, so a failed result can still be correlated.
func ParseForecastRequest(raw RawEvent, defaultLeadHours int) (ForecastRequest, error) {
	var req ForecastRequest
	decodeErr := json.Unmarshal(raw.Value, &req)
	if req.ID == "" {
		if len(raw.Key) > 0 {
			req.ID = string(raw.Key)
		} else {
			req.ID = uuid.NewString()
		}
	}
	if req.ModelVersion == "" {
		req.ModelVersion = DefaultModelVersion
	}
	if decodeErr != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, decodeErr)
	}
	if req.LeadTimeHours == 0 {
		req.LeadTimeHours = defaultLeadHours
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// Validate checks the request fields.
func (r ForecastRequest) Validate() error {
	if _, err := ResolveModelVersion(r.ModelVersion); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.LeadTimeHours < HourSteps {
		return fmt.Errorf("%w: lead time %dh is shorter than one %dh step", ErrInvalidRequest, r.LeadTimeHours, HourSteps)
	}
	switch r.InputFormat {
	case InputNetCDF:
		if r.SurfacePath == "" || r.PressurePath == "" {
			return fmt.Errorf("%w: netcdf input needs surface_path and pressure_path", ErrInvalidRequest)
		}
	case InputFields:
		if r.FieldsPath == "" {
			return fmt.Errorf("%w: fields input needs fields_path", ErrInvalidRequest)
		}
		if r.InitTime.IsZero() {
			return fmt.Errorf("%w: fields input needs init_time", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown input_format %q", ErrInvalidRequest, r.InputFormat)
	}
	return nil
}

// SerializeForecastResult marshals a result into an OutputEvent keyed by the
// request ID.
func SerializeForecastResult(res ForecastResult) (OutputEvent, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize forecast result: %w", err)
	}
	return OutputEvent{
		Key:   []byte(res.RequestID),
		Value: data,
		Headers: map[string]string{
			"status":       res.Status,
			"completed_at": res.CompletedAt.Format(time.RFC3339),
		},
	}, nil
}

// FailedResult builds the result published for a request that could not run.
func FailedResult(req ForecastRequest, err error) ForecastResult {
	return ForecastResult{
		RequestID:     req.ID,
		ModelVersion:  req.ModelVersion,
		Status:        StatusFailed,
		InitTime:      req.InitTime,
		LeadTimeHours: req.LeadTimeHours,
		Steps:         0,
		Error:         err.Error(),
		CompletedAt:   clock.Now().UTC(),
	}
}

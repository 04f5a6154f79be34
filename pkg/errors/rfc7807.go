package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeInputInvalid     = "https://layerinfer.dev/problems/input-invalid"
	TypeConfigInvalid    = "https://layerinfer.dev/problems/config-invalid"
	TypeSubmissionFailed = "https://layerinfer.dev/problems/submission-failed"
	TypeNoEventsFound    = "https://layerinfer.dev/problems/no-events-found"
	TypeNotFound         = "https://layerinfer.dev/problems/not-found"
	TypeConflict         = "https://layerinfer.dev/problems/conflict"
	TypeRateLimited      = "https://layerinfer.dev/problems/rate-limited"
	TypeInternalError    = "https://layerinfer.dev/problems/internal-error"
)

// Problem titles
const (
	TitleInputInvalid     = "Invalid Input"
	TitleConfigInvalid    = "Invalid Configuration"
	TitleSubmissionFailed = "Submission Failed"
	TitleNoEventsFound    = "No Events Found"
	TitleNotFound         = "Not Found"
	TitleConflict         = "Conflict"
	TitleRateLimited      = "Too Many Requests"
	TitleInternalError    = "Internal Server Error"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errors []ValidationError) *ProblemDetails {
	p.Errors = errors
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}

	for k, v := range p.Extra {
		result[k] = v
	}

	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates an input validation problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInputInvalid, TitleInputInvalid, http.StatusBadRequest, detail, instance)
}

// NewNotFoundError creates a not found problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

// FromError maps err onto a problem by its kind. Unknown kinds become internal errors.
func FromError(err error, instance string) *ProblemDetails {
	var p *ProblemDetails
	if As(err, &p) {
		return p
	}

	detail := MessageOf(err)
	var problem *ProblemDetails
	switch KindOf(err) {
	case KindInputInvalid:
		problem = NewValidationError(detail, instance)
	case KindConfigInvalid:
		problem = NewProblemDetails(TypeConfigInvalid, TitleConfigInvalid, http.StatusUnprocessableEntity, detail, instance)
	case KindSubmissionFailed:
		problem = NewProblemDetails(TypeSubmissionFailed, TitleSubmissionFailed, http.StatusBadGateway, detail, instance)
	case KindNoEventsFound:
		problem = NewProblemDetails(TypeNoEventsFound, TitleNoEventsFound, http.StatusBadGateway, detail, instance)
	case KindNotFound:
		problem = NewNotFoundError(detail, instance)
	case KindConflict, KindStaleRun:
		problem = NewProblemDetails(TypeConflict, TitleConflict, http.StatusConflict, detail, instance)
	default:
		return NewInternalError(detail, instance)
	}

	var e *Error
	if As(err, &e) {
		for _, f := range e.Fields {
			problem.Errors = append(problem.Errors, ValidationError{Field: f.Field, Message: f.Message, Code: f.Kind})
		}
	}
	return problem
}

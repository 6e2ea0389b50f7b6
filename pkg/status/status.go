// Package status defines communications status codes and dispatch results.
//
// Codes are grouped in bands: [1000,2000) informational, [2000,3000)
// success, [4000,5000) client error and 5000 upwards server error.
// Informational codes count as success; both error bands count as failure.
package status

import "fmt"

// Code band boundaries.
const (
	InfoBase        = 1000
	SuccessBase     = 2000
	successCeiling  = 3000
	ClientErrorBase = 4000
	ServerErrorBase = 5000
)

// Source identifies statuses produced by the orchestrator itself.
const Source = "commshub"

// CommunicationsStatus describes the outcome of one dispatch attempt.
type CommunicationsStatus struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// New creates a status.
func New(source, reason string, code int) CommunicationsStatus {
	return CommunicationsStatus{Source: source, Reason: reason, Code: code}
}

// Predefined statuses raised by the core.
var (
	Queued                         = New(Source, "Queued", 1000)
	Dispatched                     = New(Source, "Dispatched", 2000)
	Delivered                      = New(Source, "Delivered", 2100)
	DispatchRequirementsNotAllowed = New(Source, "Dispatch Requirements Not Allowed", 4030)
	PipelineNotFound               = New(Source, "Pipeline Not Found", 4040)
	IdentityNotResolved            = New(Source, "Identity Not Resolved", 4041)
	NoChannelMatched               = New(Source, "No Channel Matched", 4042)
	ChannelGenerationFailed        = New(Source, "Channel Generation Failed", 4220)
	Cancelled                      = New(Source, "Cancelled", 4990)
	DispatcherFailed               = New(Source, "Dispatcher Failed", 5000)
	ProviderNotResolved            = New(Source, "Provider Not Resolved", 5030)
)

// IsSuccess reports whether code is informational or success.
func IsSuccess(code int) bool {
	return code >= InfoBase && code < successCeiling
}

// IsInfo reports whether code is in the informational band.
func IsInfo(code int) bool {
	return code >= InfoBase && code < SuccessBase
}

// IsClientError reports whether code is in the client error band.
func IsClientError(code int) bool {
	return code >= ClientErrorBase && code < ServerErrorBase
}

// IsServerError reports whether code is a server error.
func IsServerError(code int) bool {
	return code >= ServerErrorBase
}

// IsFailure reports whether code is a client or server error.
func IsFailure(code int) bool {
	return IsClientError(code) || IsServerError(code)
}

// IsSuccess reports whether the status is success-classified.
func (s CommunicationsStatus) IsSuccess() bool { return IsSuccess(s.Code) }

// IsInfo reports whether the status is informational.
func (s CommunicationsStatus) IsInfo() bool { return IsInfo(s.Code) }

// IsClientError reports whether the status is a client error.
func (s CommunicationsStatus) IsClientError() bool { return IsClientError(s.Code) }

// IsServerError reports whether the status is a server error.
func (s CommunicationsStatus) IsServerError() bool { return IsServerError(s.Code) }

// IsFailure reports whether the status is a failure.
func (s CommunicationsStatus) IsFailure() bool { return IsFailure(s.Code) }

// Is compares source and code, ignoring the reason text.
func (s CommunicationsStatus) Is(other CommunicationsStatus) bool {
	return s.Source == other.Source && s.Code == other.Code
}

// WithReason returns a copy of s carrying a more specific reason.
func (s CommunicationsStatus) WithReason(reason string) CommunicationsStatus {
	s.Reason = reason
	return s
}

func (s CommunicationsStatus) String() string {
	return fmt.Sprintf("%s %d %s", s.Source, s.Code, s.Reason)
}

// ClientError builds a client error status for a provider.
func ClientError(source, reason string) CommunicationsStatus {
	return New(source, reason, ClientErrorBase)
}

// ServerError builds a server error status for a provider.
func ServerError(source, reason string) CommunicationsStatus {
	return New(source, reason, ServerErrorBase)
}

// Success builds a success status for a provider.
func Success(source, reason string) CommunicationsStatus {
	return New(source, reason, SuccessBase)
}

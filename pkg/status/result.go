package status

// DispatchResult is the outcome of one dispatch for one recipient on one channel.
type DispatchResult struct {
	Status     CommunicationsStatus `json:"status"`
	ResourceID string               `json:"resource_id,omitempty"`
	ChannelID  string               `json:"channel_id,omitempty"`
	ProviderID string               `json:"provider_id,omitempty"`
	Recipient  string               `json:"recipient,omitempty"`
	PipelineID string               `json:"pipeline_id,omitempty"`
	Intent     string               `json:"intent,omitempty"`
}

// NewResult creates a result with only a status set.
func NewResult(s CommunicationsStatus) *DispatchResult {
	return &DispatchResult{Status: s}
}

// DispatchCommunicationResult aggregates every result of one dispatch call.
type DispatchCommunicationResult struct {
	DispatchID string            `json:"dispatch_id,omitempty"`
	Results    []*DispatchResult `json:"results"`
}

// IsSuccessful is true when there is at least one result and every non-nil
// result carries a success-classified status.
func (r *DispatchCommunicationResult) IsSuccessful() bool {
	if r == nil {
		return false
	}
	seen := 0
	for _, res := range r.Results {
		if res == nil {
			continue
		}
		seen++
		if !res.Status.IsSuccess() {
			return false
		}
	}
	return seen > 0
}

// Failures returns the results whose status is a failure.
func (r *DispatchCommunicationResult) Failures() []*DispatchResult {
	var out []*DispatchResult
	for _, res := range r.Results {
		if res != nil && res.Status.IsFailure() {
			out = append(out, res)
		}
	}
	return out
}

// Add appends results, skipping nil entries.
func (r *DispatchCommunicationResult) Add(results ...*DispatchResult) {
	for _, res := range results {
		if res != nil {
			r.Results = append(r.Results, res)
		}
	}
}

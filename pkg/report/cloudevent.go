package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/kart-io/commshub/pkg/status"
)

// EventTypePrefix prefixes the CloudEvents type of every report.
const EventTypePrefix = "io.commshub.report."

// EventSource is the CloudEvents source of reports.
const EventSource = "commshub"

// Payload is the JSON data carried by a report event.
type Payload struct {
	DispatchID string                      `json:"dispatch_id,omitempty"`
	Intent     string                      `json:"intent,omitempty"`
	PipelineID string                      `json:"pipeline_id,omitempty"`
	ChannelID  string                      `json:"channel_id,omitempty"`
	ProviderID string                      `json:"provider_id,omitempty"`
	ResourceID string                      `json:"resource_id,omitempty"`
	Recipient  string                      `json:"recipient,omitempty"`
	Status     status.CommunicationsStatus `json:"status"`
	Error      string                      `json:"error,omitempty"`
}

// ToCloudEvent encodes r as a CloudEvents 1.0 event with a JSON payload.
// Communication and model values are not serialized.
func ToCloudEvent(r *Report) (*cloudevents.Event, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	e := cloudevents.NewEvent()
	e.SetID(r.ID)
	e.SetSource(EventSource)
	e.SetType(EventTypePrefix + strings.ToLower(r.EventName))
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e.SetTime(ts)
	if r.ChannelID != "" {
		e.SetSubject(r.ChannelID)
	}
	if r.Intent != "" {
		e.SetExtension("intent", r.Intent)
	}
	if r.ProviderID != "" {
		e.SetExtension("provider", r.ProviderID)
	}

	p := Payload{
		DispatchID: r.DispatchID,
		Intent:     r.Intent,
		PipelineID: r.PipelineID,
		ChannelID:  r.ChannelID,
		ProviderID: r.ProviderID,
		ResourceID: r.ResourceID,
		Recipient:  r.Recipient,
		Status:     r.Status,
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	if err := e.SetData(cloudevents.ApplicationJSON, p); err != nil {
		return nil, fmt.Errorf("set data: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &e, nil
}

// MarshalCloudEvent returns the structured-mode JSON encoding of r.
func MarshalCloudEvent(r *Report) ([]byte, error) {
	e, err := ToCloudEvent(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// FromCloudEvent decodes an event produced by ToCloudEvent, for example a
// provider webhook relayed as a CloudEvent.
func FromCloudEvent(e *cloudevents.Event) (*Report, error) {
	if e == nil {
		return nil, fmt.Errorf("nil event")
	}
	var p Payload
	if err := e.DataAs(&p); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	event := strings.TrimPrefix(e.Type(), EventTypePrefix)
	r := &Report{
		ID:         e.ID(),
		EventName:  canonicalEvent(event),
		DispatchID: p.DispatchID,
		ChannelID:  p.ChannelID,
		ProviderID: p.ProviderID,
		Intent:     p.Intent,
		PipelineID: p.PipelineID,
		ResourceID: p.ResourceID,
		Recipient:  p.Recipient,
		Status:     p.Status,
		Timestamp:  e.Time(),
	}
	if p.Error != "" {
		r.Err = fmt.Errorf("%s", p.Error)
	}
	return r, nil
}

func canonicalEvent(name string) string {
	for _, known := range []string{EventDispatched, EventDelivered, EventError} {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	return name
}

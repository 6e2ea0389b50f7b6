// Package report carries delivery reports from dispatches to any number of
// filtered, isolated observers.
package report

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/status"
)

// Well-known event names.
const (
	EventDispatched = "Dispatched"
	EventDelivered  = "Delivered"
	EventError      = "Error"
)

// Report describes the outcome of one dispatch attempt. Reports are never
// mutated after publication.
type Report struct {
	ID            string
	EventName     string
	DispatchID    string
	ChannelID     string
	ProviderID    string
	Intent        string
	PipelineID    string
	ResourceID    string
	Recipient     string
	Status        status.CommunicationsStatus
	Communication any
	Model         *content.Model
	Err           error
	Timestamp     time.Time
}

// FromResult builds a report for a dispatch result. The event is Dispatched
// for success statuses and Error otherwise.
func FromResult(dispatchID string, res *status.DispatchResult, comm any, model *content.Model, err error) *Report {
	event := EventDispatched
	if !res.Status.IsSuccess() {
		event = EventError
	}
	return &Report{
		ID:            uuid.NewString(),
		EventName:     event,
		DispatchID:    dispatchID,
		ChannelID:     res.ChannelID,
		ProviderID:    res.ProviderID,
		Intent:        res.Intent,
		PipelineID:    res.PipelineID,
		ResourceID:    res.ResourceID,
		Recipient:     res.Recipient,
		Status:        res.Status,
		Communication: comm,
		Model:         model,
		Err:           err,
		Timestamp:     time.Now().UTC(),
	}
}

// Normalize fills a missing id and timestamp on externally sourced reports.
func (r *Report) Normalize() *Report {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

// Observer receives reports. OnReport runs on the subscription's goroutine.
type Observer interface {
	OnReport(r *Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r *Report)

// OnReport calls f.
func (f ObserverFunc) OnReport(r *Report) { f(r) }

// Filter holds case-insensitive allow-lists. A report passes when it matches
// every non-empty list; an empty filter passes everything.
type Filter struct {
	EventNames  []string `json:"event_names,omitempty" yaml:"event_names,omitempty"`
	ChannelIDs  []string `json:"channel_ids,omitempty" yaml:"channel_ids,omitempty"`
	ProviderIDs []string `json:"provider_ids,omitempty" yaml:"provider_ids,omitempty"`
	Intents     []string `json:"intents,omitempty" yaml:"intents,omitempty"`
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *Report) bool {
	if r == nil {
		return false
	}
	return allowed(f.EventNames, r.EventName) &&
		allowed(f.ChannelIDs, r.ChannelID) &&
		allowed(f.ProviderIDs, r.ProviderID) &&
		allowed(f.Intents, r.Intent)
}

// IsEmpty reports whether the filter has no restrictions.
func (f Filter) IsEmpty() bool {
	return len(f.EventNames) == 0 && len(f.ChannelIDs) == 0 && len(f.ProviderIDs) == 0 && len(f.Intents) == 0
}

func allowed(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	for c := 0; c < 7000; c++ {
		assert.Equal(t, c >= 1000 && c < 3000, IsSuccess(c), "IsSuccess(%d)", c)
		assert.Equal(t, c >= 4000 && c < 5000, IsClientError(c), "IsClientError(%d)", c)
		assert.Equal(t, c >= 5000, IsServerError(c), "IsServerError(%d)", c)
		assert.Equal(t, IsClientError(c) || IsServerError(c), IsFailure(c), "IsFailure(%d)", c)
	}
}

func TestPredefinedStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  CommunicationsStatus
		success bool
		client  bool
		server  bool
	}{
		{"queued", Queued, true, false, false},
		{"dispatched", Dispatched, true, false, false},
		{"delivered", Delivered, true, false, false},
		{"pipeline not found", PipelineNotFound, false, true, false},
		{"requirements not allowed", DispatchRequirementsNotAllowed, false, true, false},
		{"generation failed", ChannelGenerationFailed, false, true, false},
		{"dispatcher failed", DispatcherFailed, false, false, true},
		{"provider not resolved", ProviderNotResolved, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.success, tt.status.IsSuccess())
			assert.Equal(t, tt.client, tt.status.IsClientError())
			assert.Equal(t, tt.server, tt.status.IsServerError())
			assert.Equal(t, !tt.success, tt.status.IsFailure())
		})
	}
	assert.True(t, Queued.IsInfo())
	assert.False(t, Dispatched.IsInfo())
}

func TestStatusIs(t *testing.T) {
	assert.True(t, PipelineNotFound.Is(PipelineNotFound.WithReason("intent x")))
	assert.False(t, PipelineNotFound.Is(IdentityNotResolved))
	assert.False(t, Success("twilio", "ok").Is(Dispatched))
	assert.Equal(t, "commshub 4040 Pipeline Not Found", PipelineNotFound.String())
}

func TestDispatchCommunicationResult(t *testing.T) {
	t.Run("empty is unsuccessful", func(t *testing.T) {
		assert.False(t, (&DispatchCommunicationResult{}).IsSuccessful())
		var nilResult *DispatchCommunicationResult
		assert.False(t, nilResult.IsSuccessful())
	})

	t.Run("all success", func(t *testing.T) {
		r := &DispatchCommunicationResult{}
		r.Add(NewResult(Dispatched), nil, NewResult(Queued))
		assert.Len(t, r.Results, 2)
		assert.True(t, r.IsSuccessful())
		assert.Empty(t, r.Failures())
	})

	t.Run("single failure fails aggregate but keeps results", func(t *testing.T) {
		r := &DispatchCommunicationResult{}
		r.Add(NewResult(Dispatched), NewResult(DispatcherFailed))
		assert.False(t, r.IsSuccessful())
		assert.Len(t, r.Results, 2)
		assert.Len(t, r.Failures(), 1)
	})

	t.Run("failure only aggregate", func(t *testing.T) {
		r := &DispatchCommunicationResult{}
		r.Add(NewResult(PipelineNotFound))
		assert.False(t, r.IsSuccessful())
		assert.Equal(t, 4040, r.Failures()[0].Status.Code)
	})
}

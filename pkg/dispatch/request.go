package dispatch

import (
	"strings"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/content"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/identity"
)

// Request describes one dispatch. Either Identities or Recipients must be set;
// Identities wins when both are.
type Request struct {
	Intent     string
	PipelineID string
	Identities []identity.Reference
	Recipients []audience.Address
	Model      *content.Model
	// AllowedChannelIDs restricts dispatch to these channels. Pipelines that
	// do not allow dispatch requirements are skipped when it is set.
	AllowedChannelIDs  []string
	Culture            string
	ChannelPreferences []string
	Properties         map[string]any
}

func (r *Request) validate(vocab *audience.Vocabulary) error {
	if strings.TrimSpace(r.Intent) == "" {
		return commserrors.Empty("intent")
	}
	if r.Model == nil {
		return commserrors.Argument("model", "content model is required")
	}
	if len(r.Identities) == 0 && len(r.Recipients) == 0 {
		return commserrors.Empty("recipients")
	}
	if len(r.Identities) == 0 {
		for i, a := range r.Recipients {
			if err := a.Validate(vocab); err != nil {
				return commserrors.Argument("recipients", err.Error()).
					WithContext("index", i)
			}
		}
	}
	return nil
}

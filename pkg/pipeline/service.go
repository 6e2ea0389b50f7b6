package pipeline

import (
	"context"
	"strings"
	"sync"

	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/status"
)

// Factory supplies the pipelines configured for an intent. An empty
// pipelineID matches every variant of the intent.
type Factory interface {
	Pipelines(ctx context.Context, intent, pipelineID string) ([]*Pipeline, error)
}

// Registry is an in-memory Factory preserving insertion order.
type Registry struct {
	mu        sync.RWMutex
	pipelines []*Pipeline
}

// NewRegistry creates a registry holding pipelines.
func NewRegistry(pipelines ...*Pipeline) (*Registry, error) {
	r := &Registry{}
	for _, p := range pipelines {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a pipeline. Intent and id pairs must be unique.
func (r *Registry) Add(p *Pipeline) error {
	if p == nil {
		return commserrors.Argument("pipeline", "pipeline must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pipelines {
		if strings.EqualFold(existing.Intent, p.Intent) && strings.EqualFold(existing.ID, p.ID) {
			return commserrors.Argument("pipeline", "pipeline "+p.Name()+" already registered")
		}
	}
	r.pipelines = append(r.pipelines, p)
	return nil
}

// All returns every registered pipeline.
func (r *Registry) All() []*Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Pipeline(nil), r.pipelines...)
}

// Pipelines implements Factory with case-insensitive matching.
func (r *Registry) Pipelines(_ context.Context, intent, pipelineID string) ([]*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Pipeline
	for _, p := range r.pipelines {
		if !strings.EqualFold(p.Intent, intent) {
			continue
		}
		if pipelineID != "" && !strings.EqualFold(p.ID, pipelineID) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Match is the outcome of pipeline resolution. Errors are per pipeline and
// non-fatal; no pipelines with errors signals total failure.
type Match struct {
	Pipelines []*Pipeline
	Errors    []status.CommunicationsStatus
}

// Service resolves the pipelines applicable to a dispatch.
type Service struct {
	factory Factory
	logger  logger.Logger
}

// NewService creates a resolution service over factory.
func NewService(factory Factory, log logger.Logger) *Service {
	return &Service{factory: factory, logger: logger.OrDiscard(log)}
}

// MatchingPipelines returns the pipelines for intent (and pipelineID when set)
// in factory order. A pipeline that does not allow dispatch requirements is
// excluded when channelFilter is non-empty.
func (s *Service) MatchingPipelines(ctx context.Context, intent, pipelineID string, channelFilter []string) (*Match, error) {
	if strings.TrimSpace(intent) == "" {
		return nil, commserrors.Empty("intent")
	}
	candidates, err := s.factory.Pipelines(ctx, intent, pipelineID)
	if err != nil {
		return nil, commserrors.Wrap(err, commserrors.ErrResolverFailed, "pipeline factory failed").
			WithContext("intent", intent)
	}

	m := &Match{}
	if len(candidates) == 0 {
		s.logger.Warn("No pipeline matched", "intent", intent, "pipeline_id", pipelineID)
		m.Errors = append(m.Errors, status.PipelineNotFound.WithReason("no pipeline configured for intent "+intent))
		return m, nil
	}

	for _, p := range candidates {
		if len(channelFilter) > 0 && !p.DispatchRequirementsAllowed {
			s.logger.Debug("Pipeline excluded by dispatch requirements", "pipeline", p.Name())
			m.Errors = append(m.Errors, status.DispatchRequirementsNotAllowed.
				WithReason("pipeline "+p.Name()+" does not allow channel restrictions"))
			continue
		}
		m.Pipelines = append(m.Pipelines, p)
	}
	return m, nil
}

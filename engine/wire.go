package engine

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CreateRequest is the wire format for pipeline creation. Step ids are
// assigned by the server; steps chain sequentially unless NextSteps indices
// supply an explicit DAG.
type CreateRequest struct {
	UserID string      `json:"user_id,omitempty"`
	Wallet string      `json:"wallet,omitempty"`
	Steps  []StepInput `json:"steps"`
}

// StepInput is one step of a creation request. NextSteps holds indices into
// the request's Steps slice.
type StepInput struct {
	Action     Action           `json:"action"`
	Conditions []ConditionInput `json:"conditions"`
	NextSteps  []int            `json:"next_steps,omitempty"`
}

// ConditionInput is the flat wire form of a condition. Nested And/Or trees
// are accepted through the Conditions field.
type ConditionInput struct {
	Type       ConditionType    `json:"type"`
	Asset      string           `json:"asset,omitempty"`
	Value      float64          `json:"value,omitempty"`
	Conditions []ConditionInput `json:"conditions,omitempty"`
}

var pipelineSeq atomic.Uint64

func newPipelineID(now time.Time) string {
	return fmt.Sprintf("pl-%d-%d", now.UnixMilli(), pipelineSeq.Add(1))
}

// BuildPipeline converts a creation request into a Pipeline with assigned
// ids. Steps without explicit next-step indices are chained in order; the
// first step is the initial active set.
func BuildPipeline(req CreateRequest) (*Pipeline, error) {
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("at least one step is required")
	}

	now := time.Now().UTC()
	p := &Pipeline{
		ID:        newPipelineID(now),
		UserID:    req.UserID,
		Wallet:    req.Wallet,
		Steps:     make(map[string]*PipelineStep, len(req.Steps)),
		Status:    StatusPending,
		CreatedAt: now,
	}

	ids := make([]string, len(req.Steps))
	for i := range req.Steps {
		ids[i] = fmt.Sprintf("%s-s%d", p.ID, i)
	}

	for i, in := range req.Steps {
		step := &PipelineStep{
			ID:     ids[i],
			Action: in.Action,
			Status: StatusPending,
		}

		for _, ci := range in.Conditions {
			step.Conditions = append(step.Conditions, buildCondition(ci))
		}

		if len(in.NextSteps) > 0 {
			for _, idx := range in.NextSteps {
				if idx < 0 || idx >= len(req.Steps) {
					return nil, fmt.Errorf("step %d references out-of-range next step %d", i, idx)
				}
				if idx == i {
					return nil, fmt.Errorf("step %d references itself", i)
				}
				step.NextSteps = append(step.NextSteps, ids[idx])
			}
		} else if i+1 < len(req.Steps) {
			step.NextSteps = []string{ids[i+1]}
		}

		p.Steps[step.ID] = step
	}

	// Roots of the DAG form the initial active set. For the sequential
	// default that is exactly the first step.
	referenced := make(map[string]struct{})
	for _, step := range p.Steps {
		for _, next := range step.NextSteps {
			referenced[next] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := referenced[id]; !ok {
			p.CurrentSteps = append(p.CurrentSteps, id)
		}
	}
	if len(p.CurrentSteps) == 0 {
		return nil, fmt.Errorf("step graph has no entry point")
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildCondition(in ConditionInput) *Condition {
	c := &Condition{
		Type:  in.Type,
		Asset: in.Asset,
		Value: in.Value,
	}
	for _, child := range in.Conditions {
		c.Conditions = append(c.Conditions, buildCondition(child))
	}
	return c
}

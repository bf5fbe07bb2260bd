package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status tracks the lifecycle of a pipeline or one of its steps.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// ConditionType discriminates the Condition variants.
type ConditionType string

const (
	ConditionPriceAbove       ConditionType = "PriceAbove"
	ConditionPriceBelow       ConditionType = "PriceBelow"
	ConditionPercentageChange ConditionType = "PercentageChange"
	ConditionNow              ConditionType = "Now"
	ConditionAnd              ConditionType = "And"
	ConditionOr               ConditionType = "Or"
)

// Condition is a tagged variant evaluated against the latest price cache.
// Triggered and LastEvaluated are bookkeeping; a step only fires when every
// condition in it holds on the same evaluation pass. PercentageChange is the
// one history-aware variant: its baseline is pinned on first evaluation.
type Condition struct {
	Type  ConditionType `json:"type"`
	Asset string        `json:"asset,omitempty"`
	Value float64       `json:"value,omitempty"`

	// Baseline holds the pinned reference price for PercentageChange.
	// Zero means not yet pinned.
	Baseline float64 `json:"baseline,omitempty"`

	Conditions []*Condition `json:"conditions,omitempty"`

	Triggered     bool       `json:"triggered"`
	LastEvaluated *time.Time `json:"last_evaluated,omitempty"`
}

// ActionType discriminates the Action variants.
type ActionType string

const (
	ActionSwapOrder    ActionType = "SwapOrder"
	ActionNotification ActionType = "Notification"
)

// Action is what a step performs once its conditions hold.
type Action struct {
	Type ActionType `json:"type"`

	InputToken  string `json:"input_token,omitempty"`
	OutputToken string `json:"output_token,omitempty"`
	Amount      string `json:"amount,omitempty"`

	Message string `json:"message,omitempty"`
}

// PipelineStep is one node of the pipeline DAG. Steps reference each other by
// id only; the pipeline owns the step arena.
type PipelineStep struct {
	ID         string       `json:"id"`
	Action     Action       `json:"action"`
	Conditions []*Condition `json:"conditions"`
	NextSteps  []string     `json:"next_steps"`
	Status     Status       `json:"status"`
}

// Pipeline is a user-defined DAG of conditional trading steps. It is mutated
// only by the engine; once it reaches a terminal status (Completed, Failed,
// Cancelled) it never changes again.
type Pipeline struct {
	ID           string                   `json:"id"`
	UserID       string                   `json:"user_id"`
	Wallet       string                   `json:"wallet"`
	Steps        map[string]*PipelineStep `json:"steps"`
	CurrentSteps []string                 `json:"current_steps"`
	Status       Status                   `json:"status"`
	CreatedAt    time.Time                `json:"created_at"`
}

// Active reports whether the pipeline still has work to do.
func (p *Pipeline) Active() bool {
	return p.Status == StatusPending
}

// Assets returns the set of assets referenced by any condition in the
// pipeline, traversing And/Or trees. This drives the subscription index.
func (p *Pipeline) Assets() []string {
	seen := make(map[string]struct{})
	for _, step := range p.Steps {
		for _, cond := range step.Conditions {
			collectAssets(cond, seen)
		}
	}
	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	return assets
}

func collectAssets(c *Condition, seen map[string]struct{}) {
	if c == nil {
		return
	}
	switch c.Type {
	case ConditionAnd, ConditionOr:
		for _, child := range c.Conditions {
			collectAssets(child, seen)
		}
	case ConditionNow:
		// Now ignores its asset.
	default:
		if c.Asset != "" {
			seen[c.Asset] = struct{}{}
		}
	}
}

// Validate checks structural invariants on a freshly built pipeline.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	for id, step := range p.Steps {
		if step == nil {
			return fmt.Errorf("step %s is nil", id)
		}
		if step.ID != id {
			return fmt.Errorf("step key %s does not match id %s", id, step.ID)
		}
		for _, next := range step.NextSteps {
			if _, ok := p.Steps[next]; !ok {
				return fmt.Errorf("step %s references unknown next step %s", id, next)
			}
		}
		if err := validateAction(step.Action); err != nil {
			return fmt.Errorf("step %s: %w", id, err)
		}
		for _, cond := range step.Conditions {
			if err := validateCondition(cond); err != nil {
				return fmt.Errorf("step %s: %w", id, err)
			}
		}
	}
	for _, id := range p.CurrentSteps {
		if _, ok := p.Steps[id]; !ok {
			return fmt.Errorf("active step %s not defined", id)
		}
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionSwapOrder:
		if a.InputToken == "" || a.OutputToken == "" {
			return fmt.Errorf("swap order requires input and output tokens")
		}
		if a.Amount == "" {
			return fmt.Errorf("swap order requires an amount")
		}
	case ActionNotification:
		if a.Message == "" {
			return fmt.Errorf("notification requires a message")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func validateCondition(c *Condition) error {
	if c == nil {
		return fmt.Errorf("nil condition")
	}
	switch c.Type {
	case ConditionPriceAbove, ConditionPriceBelow, ConditionPercentageChange:
		if c.Asset == "" {
			return fmt.Errorf("%s condition requires an asset", c.Type)
		}
	case ConditionNow:
	case ConditionAnd, ConditionOr:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s condition requires children", c.Type)
		}
		for _, child := range c.Conditions {
			if err := validateCondition(child); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// Clone returns a deep copy suitable for handing to API readers without
// exposing engine-owned state.
func (p *Pipeline) Clone() *Pipeline {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out Pipeline
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

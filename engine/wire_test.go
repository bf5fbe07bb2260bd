package engine

import (
	"encoding/json"
	"testing"
)

func TestBuildPipelineSequentialChaining(t *testing.T) {
	req := CreateRequest{
		UserID: "user-1",
		Wallet: "wallet-1",
		Steps: []StepInput{
			{Action: notification("a"), Conditions: []ConditionInput{priceAbove("X", 1)}},
			{Action: notification("b"), Conditions: []ConditionInput{priceAbove("X", 2)}},
			{Action: notification("c"), Conditions: []ConditionInput{priceAbove("X", 3)}},
		},
	}

	p, err := BuildPipeline(req)
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}
	if p.ID == "" {
		t.Fatal("no pipeline id assigned")
	}
	if p.UserID != "user-1" || p.Wallet != "wallet-1" {
		t.Fatalf("owner fields %s / %s", p.UserID, p.Wallet)
	}
	if len(p.Steps) != 3 {
		t.Fatalf("%d steps", len(p.Steps))
	}
	if len(p.CurrentSteps) != 1 {
		t.Fatalf("initial active set %v", p.CurrentSteps)
	}

	first := p.Steps[p.CurrentSteps[0]]
	if len(first.NextSteps) != 1 {
		t.Fatalf("first step next %v", first.NextSteps)
	}
	second := p.Steps[first.NextSteps[0]]
	if len(second.NextSteps) != 1 {
		t.Fatalf("second step next %v", second.NextSteps)
	}
	last := p.Steps[second.NextSteps[0]]
	if len(last.NextSteps) != 0 {
		t.Fatalf("last step should be terminal, next %v", last.NextSteps)
	}
}

func TestBuildPipelineExplicitDAG(t *testing.T) {
	req := CreateRequest{Steps: []StepInput{
		{Action: notification("root"), Conditions: []ConditionInput{{Type: ConditionNow}}, NextSteps: []int{1, 2}},
		{Action: notification("left"), Conditions: []ConditionInput{priceAbove("X", 1)}},
		{Action: notification("right"), Conditions: []ConditionInput{priceAbove("Y", 1)}},
	}}

	p, err := BuildPipeline(req)
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}

	if len(p.CurrentSteps) != 1 {
		t.Fatalf("roots %v, want just the fan-out step", p.CurrentSteps)
	}
	root := p.Steps[p.CurrentSteps[0]]
	if len(root.NextSteps) != 2 {
		t.Fatalf("root next %v", root.NextSteps)
	}
}

func TestBuildPipelineRejectsBadReferences(t *testing.T) {
	outOfRange := CreateRequest{Steps: []StepInput{
		{Action: notification("a"), Conditions: []ConditionInput{{Type: ConditionNow}}, NextSteps: []int{5}},
	}}
	if _, err := BuildPipeline(outOfRange); err == nil {
		t.Fatal("expected out-of-range error")
	}

	selfRef := CreateRequest{Steps: []StepInput{
		{Action: notification("a"), Conditions: []ConditionInput{{Type: ConditionNow}}, NextSteps: []int{0}},
	}}
	if _, err := BuildPipeline(selfRef); err == nil {
		t.Fatal("expected self-reference error")
	}

	if _, err := BuildPipeline(CreateRequest{}); err == nil {
		t.Fatal("expected error for empty step list")
	}
}

func TestBuildPipelineValidatesActions(t *testing.T) {
	missingAmount := CreateRequest{Steps: []StepInput{{
		Action:     Action{Type: ActionSwapOrder, InputToken: "a", OutputToken: "b"},
		Conditions: []ConditionInput{{Type: ConditionNow}},
	}}}
	if _, err := BuildPipeline(missingAmount); err == nil {
		t.Fatal("expected error for swap order without amount")
	}

	unknown := CreateRequest{Steps: []StepInput{{
		Action:     Action{Type: "Teleport"},
		Conditions: []ConditionInput{{Type: ConditionNow}},
	}}}
	if _, err := BuildPipeline(unknown); err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestCreateRequestWireFormat(t *testing.T) {
	raw := `{
		"user_id": "u1",
		"steps": [
			{
				"action": {"type": "SwapOrder", "input_token": "sol", "output_token": "tok", "amount": "100"},
				"conditions": [{"type": "PriceAbove", "asset": "tok", "value": 0.5}]
			},
			{
				"action": {"type": "Notification", "message": "done"},
				"conditions": [{"type": "Now"}]
			}
		]
	}`

	var req CreateRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	p, err := BuildPipeline(req)
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("%d steps", len(p.Steps))
	}

	first := p.Steps[p.CurrentSteps[0]]
	if first.Action.Type != ActionSwapOrder || first.Action.Amount != "100" {
		t.Fatalf("first action %+v", first.Action)
	}
	if first.Conditions[0].Type != ConditionPriceAbove || first.Conditions[0].Value != 0.5 {
		t.Fatalf("first condition %+v", first.Conditions[0])
	}
}

package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PlanStatus is the critic's verdict.
type PlanStatus string

const (
	PlanGood PlanStatus = "GOOD"
	PlanBad  PlanStatus = "BAD"
)

// Critique is the critic's JSON answer.
type Critique struct {
	Status         PlanStatus `json:"plan_status"`
	Reasoning      string     `json:"critique_reasoning"`
	OriginalPlan   PlanText   `json:"original_plan"`
	RevisedPlan    PlanText   `json:"revised_plan"`
	DifferencesSum string     `json:"plan_differences_summary"`
}

// PlanText accepts a plan as a string, a list of steps, or null.
type PlanText string

func (p *PlanText) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != nil {
			*p = PlanText(*s)
		}
		return nil
	}
	var steps []string
	if err := json.Unmarshal(data, &steps); err != nil {
		return fmt.Errorf("plan must be a string or a list of steps: %w", err)
	}
	*p = PlanText(strings.Join(steps, "\n"))
	return nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseCritique extracts the critique object from the critic's output, fenced or bare.
func ParseCritique(output string) (*Critique, error) {
	candidate := ""
	if m := fencedJSON.FindStringSubmatch(output); m != nil {
		candidate = m[1]
	} else if start, end := strings.Index(output, "{"), strings.LastIndex(output, "}"); start >= 0 && end > start {
		candidate = output[start : end+1]
	}
	if candidate == "" {
		return nil, errors.New("no JSON object in critic output")
	}

	var c Critique
	if err := json.Unmarshal([]byte(candidate), &c); err != nil {
		return nil, fmt.Errorf("unparseable critic output: %w", err)
	}
	c.Status = PlanStatus(strings.ToUpper(strings.TrimSpace(string(c.Status))))
	if c.Status != PlanGood && c.Status != PlanBad {
		return nil, fmt.Errorf("invalid plan_status %q", c.Status)
	}
	return &c, nil
}

// FinalPlan returns the plan to execute and whether the critic revised it. A BAD verdict
// with an empty revision keeps the original.
func (c *Critique) FinalPlan(original string) (plan string, revised bool) {
	if c.Status == PlanGood {
		return original, false
	}
	if r := strings.TrimSpace(string(c.RevisedPlan)); r != "" {
		return r, true
	}
	return original, false
}

package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidStep     = errors.New("step not found or not active")
	ErrInvalidTemplate = errors.New("invalid action plan template")
)

// Step kinds an action plan can contain.
const (
	KindChecklist = "checklist"
	KindBoolean   = "boolean-question"
	KindTool      = "tool-trigger"
	KindWebhook   = "webhook"
)

// Recorded step values in an event's plan state.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
	ValueDone = "done"
)

// Step is one node of an account's action plan. Boolean questions own
// their yes/no child sequences; other kinds are leaves.
type Step struct {
	ID       string `json:"id"`
	Kind     string `json:"type"`
	Label    string `json:"label"`
	URL      string `json:"url,omitempty"`
	YesSteps []Step `json:"yesSteps,omitempty"`
	NoSteps  []Step `json:"noSteps,omitempty"`
}

// Plan is a parsed, validated action plan template.
type Plan struct {
	Steps []Step

	byID map[string]*Step
}

// ParseTemplate parses the account's action_plan JSON. Step IDs must
// be unique across the whole tree and webhook steps must carry a URL.
func ParseTemplate(raw json.RawMessage) (*Plan, error) {
	if len(raw) == 0 {
		return &Plan{byID: map[string]*Step{}}, nil
	}

	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	p := &Plan{Steps: steps, byID: make(map[string]*Step)}
	if err := p.index(p.Steps); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) index(steps []Step) error {
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return fmt.Errorf("%w: step with empty id", ErrInvalidTemplate)
		}
		if _, dup := p.byID[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidTemplate, s.ID)
		}
		switch s.Kind {
		case KindChecklist, KindTool:
		case KindWebhook:
			if s.URL == "" {
				return fmt.Errorf("%w: webhook step %q has no url", ErrInvalidTemplate, s.ID)
			}
		case KindBoolean:
		default:
			return fmt.Errorf("%w: step %q has unknown type %q", ErrInvalidTemplate, s.ID, s.Kind)
		}
		p.byID[s.ID] = s

		if s.Kind == KindBoolean {
			if err := p.index(s.YesSteps); err != nil {
				return err
			}
			if err := p.index(s.NoSteps); err != nil {
				return err
			}
		} else if len(s.YesSteps) > 0 || len(s.NoSteps) > 0 {
			return fmt.Errorf("%w: step %q of type %q cannot have branches", ErrInvalidTemplate, s.ID, s.Kind)
		}
	}
	return nil
}

// Find returns the step with the given id, or nil.
func (p *Plan) Find(stepID string) *Step {
	return p.byID[stepID]
}

// IsActive reports whether a step is reachable given the answers
// recorded so far: top-level steps are always active, children of a
// boolean question only while their branch matches the current answer.
// Values recorded on an inactive branch stay in the state map but the
// steps themselves cannot be mutated until the branch is reactivated.
func (p *Plan) IsActive(stepID string, state map[string]string) bool {
	return activeIn(p.Steps, stepID, state)
}

func activeIn(steps []Step, stepID string, state map[string]string) bool {
	for i := range steps {
		s := &steps[i]
		if s.ID == stepID {
			return true
		}
		if s.Kind != KindBoolean {
			continue
		}
		switch state[s.ID] {
		case AnswerYes:
			if activeIn(s.YesSteps, stepID, state) {
				return true
			}
		case AnswerNo:
			if activeIn(s.NoSteps, stepID, state) {
				return true
			}
		}
	}
	return false
}

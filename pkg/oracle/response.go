package oracle

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/plan"
)

// fenceRE captures the body of the first Markdown code fence, with or
// without a json language tag.
var fenceRE = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// StripFences returns the fenced block body when the text contains
// one, otherwise the trimmed text itself.
func StripFences(text string) string {
	if m := fenceRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// Refinement asks the harness for more interface detail before the
// oracle commits to a plan.
type Refinement struct {
	RequestMore []string `json:"request_more"`
	Reason      string   `json:"reason,omitempty"`
}

// Response is a decoded oracle reply. Exactly one arm is set: a
// refinement request, a finished plan, or a bare key-type prediction.
type Response struct {
	Refine *Refinement
	Plan   *plan.Plan
	Types  []string
}

// ParseResponse decodes an oracle reply. Fences are stripped first;
// anything that is not valid JSON in one of the three accepted shapes
// is a protocol error charged against the plan-attempt budget.
func ParseResponse(text string) (*Response, error) {
	s := StripFences(text)
	if s == "" {
		return nil, errors.New(errors.ErrCodePlanningProtocol, "oracle reply is empty")
	}

	var probe any
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePlanningProtocol, "oracle reply is not JSON")
	}

	switch v := probe.(type) {
	case []any:
		types, ok := stringList(v)
		if !ok {
			return nil, errors.New(errors.ErrCodePlanningProtocol, "oracle array must contain only strings")
		}
		return &Response{Types: types}, nil

	case map[string]any:
		if _, present := v["request_more"]; present {
			var r Refinement
			if err := json.Unmarshal([]byte(s), &r); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodePlanningProtocol, "malformed refinement request")
			}
			if len(r.RequestMore) == 0 {
				return nil, errors.New(errors.ErrCodePlanningProtocol, "refinement request names no functions")
			}
			return &Response{Refine: &r}, nil
		}
		if _, present := v["calls"]; present {
			p, err := plan.Parse([]byte(s))
			if err != nil {
				return nil, err
			}
			return &Response{Plan: p}, nil
		}
		if raw, present := v["key_types"]; present {
			list, ok := raw.([]any)
			if !ok {
				return nil, errors.New(errors.ErrCodePlanningProtocol, "key_types must be an array")
			}
			types, ok := stringList(list)
			if !ok {
				return nil, errors.New(errors.ErrCodePlanningProtocol, "key_types must contain only strings")
			}
			return &Response{Types: types}, nil
		}
	}
	return nil, errors.New(errors.ErrCodePlanningProtocol,
		"oracle reply is not a refinement, plan, or type list")
}

func stringList(values []any) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out, true
}

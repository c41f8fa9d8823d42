// Package run orchestrates benchmark execution: roster iteration,
// agent invocation, simulation, scoring, checkpointing, and resume.
package run

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/plan"
	"github.com/odvcencio/inhabit/pkg/search"
	"github.com/odvcencio/inhabit/pkg/session"
)

// Agent names accepted by NewAgent.
const (
	AgentBaselineSearch = "baseline-search"
	AgentOracle         = "real-openai-compatible"
	agentMockPrefix     = "mock-"
)

// Evidence variants recorded per unit.
const (
	VariantSearch    = "search"
	VariantOracle    = "oracle"
	VariantPredicted = "predicted-types"
)

// Finding is an agent's answer for one unit: either a plan to
// simulate or predicted key types to score directly.
type Finding struct {
	Plan           *plan.Plan
	PredictedTypes []string
	Variant        string

	// Exchange counters, set by the oracle agent.
	OracleCalls  int
	PlanAttempts int
	PromptTokens int

	// SelectedTargets lists the key types the plan deliberately
	// covers, when the agent knows.
	SelectedTargets []string
}

// Agent produces inhabitation evidence for one unit. The targets are
// the unit's key types; mock agents grade against them, real agents
// must not see them beyond what the interface already reveals.
type Agent interface {
	Name() string
	Inhabit(ctx context.Context, doc *iface.Package, targets []string) (*Finding, error)
}

// AgentDeps carries the collaborators agents may need.
type AgentDeps struct {
	// Oracle is required for the real-openai-compatible agent.
	Oracle        session.Completer
	SessionConfig session.Config
	// Search overrides the default engine for the baseline agent.
	Search *search.Engine
	Seed   int64
	Logger *logging.Logger
}

// NewAgent builds an agent by its roster name.
func NewAgent(name string, deps AgentDeps) (Agent, error) {
	switch {
	case name == AgentBaselineSearch:
		engine := deps.Search
		if engine == nil {
			engine = search.NewEngine(search.DefaultPolicy(), search.Limits{})
		}
		return &SearchAgent{engine: engine}, nil

	case name == AgentOracle:
		if deps.Oracle == nil {
			return nil, errors.New(errors.ErrCodeConfigLoad,
				"the real-openai-compatible agent needs an oracle client").
				WithRemediation("set the api key and base url, or pick a mock agent")
		}
		return &OracleAgent{
			completer: deps.Oracle,
			cfg:       deps.SessionConfig,
			log:       deps.Logger,
		}, nil

	case strings.HasPrefix(name, agentMockPrefix):
		return &MockAgent{
			Behavior: strings.TrimPrefix(name, agentMockPrefix),
			Seed:     deps.Seed,
		}, nil
	}

	return nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown agent %q", name)).
		WithRemediation("use baseline-search, real-openai-compatible, or mock-{perfect,empty,random,noisy}")
}

// SearchAgent derives a plan from the call graph alone, with no
// oracle in the loop. It is the floor every smarter agent should
// beat.
type SearchAgent struct {
	engine *search.Engine
}

func (a *SearchAgent) Name() string { return AgentBaselineSearch }

func (a *SearchAgent) Inhabit(_ context.Context, doc *iface.Package, _ []string) (*Finding, error) {
	p, selected := a.engine.ExecutablePlan(doc)
	if p == nil || len(p.Calls) == 0 {
		return nil, errors.New(errors.ErrCodeSearchExhausted, "no executable constructor plan found").
			WithContext("package", doc.PackageID)
	}
	return &Finding{Plan: p, Variant: VariantSearch, SelectedTargets: selected}, nil
}

// OracleAgent runs the progressive-disclosure exchange and returns
// whatever the oracle committed to.
type OracleAgent struct {
	completer session.Completer
	cfg       session.Config
	log       *logging.Logger
}

func (a *OracleAgent) Name() string { return AgentOracle }

func (a *OracleAgent) Inhabit(ctx context.Context, doc *iface.Package, targets []string) (*Finding, error) {
	sess := session.New(a.cfg, a.completer, a.log)
	res, err := sess.Run(ctx, doc, targets)
	if err != nil {
		return nil, err
	}
	f := &Finding{
		Plan:         res.Plan,
		OracleCalls:  res.OracleCalls,
		PlanAttempts: res.PlanAttempts,
		PromptTokens: res.PromptTokens,
	}
	if res.Plan != nil {
		f.Variant = VariantOracle
	} else {
		f.PredictedTypes = res.Types
		f.Variant = VariantPredicted
	}
	return f, nil
}

// MockAgent grades the harness itself. Each behavior distorts the
// truth set a known way so scoring bugs show up as impossible
// aggregate numbers.
type MockAgent struct {
	Behavior string
	Seed     int64
}

func (a *MockAgent) Name() string { return agentMockPrefix + a.Behavior }

func (a *MockAgent) Inhabit(_ context.Context, _ *iface.Package, targets []string) (*Finding, error) {
	var predicted []string
	switch a.Behavior {
	case "perfect":
		predicted = append(predicted, targets...)
	case "empty":
		predicted = []string{}
	case "random":
		for _, t := range targets {
			if mockDigest(a.Seed, t)%2 == 0 {
				predicted = append(predicted, t)
			}
		}
	case "noisy":
		predicted = append(predicted, targets...)
		predicted = append(predicted, junkTypes(a.Seed, 5)...)
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown mock behavior %q", a.Behavior)).
			WithRemediation("use mock-perfect, mock-empty, mock-random, or mock-noisy")
	}
	sort.Strings(predicted)
	return &Finding{PredictedTypes: predicted, Variant: VariantPredicted}, nil
}

func mockDigest(seed int64, s string) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", seed, s)))
	return binary.BigEndian.Uint64(sum[:8])
}

// junkTypes returns n distinct fabricated key types. They live at a
// reserved junk address so they can never collide with a real target.
func junkTypes(seed int64, n int) []string {
	seen := make(map[string]struct{}, n)
	var out []string
	for i := 0; len(out) < n; i++ {
		num := mockDigest(seed, fmt.Sprintf("junk|%d", i)) % 10000
		t := fmt.Sprintf("0xdead::%d::Fake", num)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Package session drives the bounded exchange with the planning
// oracle for one unit: it discloses the package interface at a
// configured fidelity, answers refinement requests with focused
// detail, charges malformed or invalid plans against the attempt
// budget, and stops as soon as the oracle commits to a plan.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/iface"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/oracle"
	"github.com/odvcencio/inhabit/pkg/plan"
)

// State of the planning exchange.
type State string

const (
	StateInitial        State = "initial"
	StateAwaitingOracle State = "awaiting_oracle"
	StateRefining       State = "refining"
	StateFinalizing     State = "finalizing"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// SystemPrompt pins the oracle to machine-readable output.
const SystemPrompt = "You are a careful assistant. Output only valid JSON."

// Budget defaults.
const (
	DefaultMaxOracleCalls  = 6
	DefaultMaxPlanAttempts = 2
	DefaultMaxFunctions    = 200
)

// Config bounds one planning session.
type Config struct {
	Fidelity Fidelity
	// FocusFunctions names the functions disclosed at FidelityFocused;
	// other levels ignore it.
	FocusFunctions  []string
	MaxFunctions    int
	MaxOracleCalls  int
	MaxPlanAttempts int
}

func (c Config) withDefaults() Config {
	if c.Fidelity == "" {
		c.Fidelity = FidelityEntry
	}
	if c.MaxFunctions <= 0 {
		c.MaxFunctions = DefaultMaxFunctions
	}
	if c.MaxOracleCalls <= 0 {
		c.MaxOracleCalls = DefaultMaxOracleCalls
	}
	if c.MaxPlanAttempts <= 0 {
		c.MaxPlanAttempts = DefaultMaxPlanAttempts
	}
	return c
}

// Completer is the oracle transport the session speaks through.
type Completer interface {
	Complete(ctx context.Context, messages []oracle.Message) (*oracle.Completion, error)
}

// Result is the session's outcome: either a validated plan or, when
// the oracle answers with the bare key-type shorthand, a type
// prediction to score directly.
type Result struct {
	Plan        *plan.Plan
	Types       []string
	OracleCalls int
	// PlanAttempts counts replies that failed to parse or validate.
	PlanAttempts int
	// PromptTokens estimates the total prompt size sent across all
	// rounds.
	PromptTokens int
}

// Session holds one unit's exchange with the oracle.
type Session struct {
	id       string
	cfg      Config
	oracle   Completer
	log      *logging.Logger
	state    State
	messages []oracle.Message

	oracleCalls  int
	planAttempts int
}

// New builds a session. A nil logger disables logging.
func New(cfg Config, completer Completer, log *logging.Logger) *Session {
	if log == nil {
		log = logging.NewNop()
	}
	return &Session{
		id:     uuid.NewString(),
		cfg:    cfg.withDefaults(),
		oracle: completer,
		log:    log,
		state:  StateInitial,
	}
}

// ID identifies this exchange in log events.
func (s *Session) ID() string {
	return s.id
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// OracleCalls reports completions consumed so far.
func (s *Session) OracleCalls() int {
	return s.oracleCalls
}

// PlanAttempts reports rejected replies charged so far.
func (s *Session) PlanAttempts() int {
	return s.planAttempts
}

// Run executes the exchange until the oracle commits, a budget runs
// out, or the context expires.
func (s *Session) Run(ctx context.Context, doc *iface.Package, targets []string) (*Result, error) {
	s.messages = []oracle.Message{
		{Role: oracle.RoleSystem, Content: SystemPrompt},
		{Role: oracle.RoleUser, Content: initialPrompt(doc, targets, s.cfg)},
	}

	for {
		if err := ctx.Err(); err != nil {
			s.state = StateAborted
			return nil, errors.Wrap(err, errors.ErrCodeTimeout, "planning session interrupted")
		}
		if s.oracleCalls >= s.cfg.MaxOracleCalls {
			s.state = StateAborted
			return nil, errors.New(errors.ErrCodePlanningProtocol, "oracle call budget exhausted").
				WithContext("calls", s.oracleCalls)
		}

		s.state = StateAwaitingOracle
		completion, err := s.oracle.Complete(ctx, s.messages)
		if err != nil {
			s.state = StateAborted
			return nil, err
		}
		s.oracleCalls++
		s.log.Debug(logging.CategoryOracle, "oracle_reply", "oracle replied", map[string]any{
			"session": s.id,
			"call":    s.oracleCalls,
			"tokens":  completion.Usage.TotalTokens,
			"bytes":   len(completion.Content),
		})

		resp, err := oracle.ParseResponse(completion.Content)
		if err != nil {
			if abortErr := s.chargePlanAttempt(completion.Content, err); abortErr != nil {
				return nil, abortErr
			}
			continue
		}

		switch {
		case resp.Refine != nil:
			s.state = StateRefining
			s.log.Info(logging.CategorySession, "refinement", "oracle requested more detail", map[string]any{
				"session":   s.id,
				"functions": resp.Refine.RequestMore,
				"reason":    resp.Refine.Reason,
			})
			s.push(completion.Content, FocusedSummary(doc, resp.Refine.RequestMore, s.cfg.MaxFunctions))

		case resp.Plan != nil:
			s.state = StateFinalizing
			if err := resp.Plan.ValidateAgainst(doc); err != nil {
				if abortErr := s.chargePlanAttempt(completion.Content, err); abortErr != nil {
					return nil, abortErr
				}
				continue
			}
			s.state = StateDone
			return s.result(resp.Plan, nil), nil

		case resp.Types != nil:
			s.state = StateDone
			return s.result(nil, resp.Types), nil
		}
	}
}

// chargePlanAttempt spends one attempt on a reply that failed to
// parse or validate. While budget remains the failure is echoed back
// to the oracle; once spent the session aborts with the failure.
func (s *Session) chargePlanAttempt(reply string, cause error) error {
	s.planAttempts++
	s.log.Warn(logging.CategorySession, "plan_rejected", "oracle reply rejected", map[string]any{
		"session": s.id,
		"attempt": s.planAttempts,
		"error":   cause.Error(),
	})
	if s.planAttempts >= s.cfg.MaxPlanAttempts {
		s.state = StateAborted
		return cause
	}
	s.push(reply, fmt.Sprintf(
		"Your previous reply was rejected: %s\nReply again with exactly one JSON object in one of the accepted shapes, and nothing else.",
		cause.Error()))
	return nil
}

// push appends the oracle's reply and the harness's answer to the
// transcript.
func (s *Session) push(assistant, user string) {
	s.messages = append(s.messages,
		oracle.Message{Role: oracle.RoleAssistant, Content: assistant},
		oracle.Message{Role: oracle.RoleUser, Content: user},
	)
}

func (s *Session) result(p *plan.Plan, types []string) *Result {
	tokens := 0
	for _, m := range s.messages {
		tokens += EstimateTokens(m.Content)
	}
	return &Result{
		Plan:         p,
		Types:        types,
		OracleCalls:  s.oracleCalls,
		PlanAttempts: s.planAttempts,
		PromptTokens: tokens,
	}
}

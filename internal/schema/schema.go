// Package schema validates executor payloads against CUE definitions and
// decodes them into the typed domain payloads.
package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"bounty-orchestrator/internal/domain"
)

//go:embed payloads.cue
var payloadsCUE string

// Kind names a payload definition in payloads.cue.
type Kind string

const (
	KindAnalysis    Kind = "#Analysis"
	KindCompetition Kind = "#Competition"
	KindPlan        Kind = "#Plan"
	KindExecution   Kind = "#Execution"
)

var (
	// ErrNotObject is returned for payloads that are not JSON objects.
	ErrNotObject = errors.New("payload is not a JSON object")

	// ErrNoVerdict is returned for a competition payload that carries neither
	// a count nor a recommendation.
	ErrNoVerdict = errors.New("competition payload has no count and no recommendation")
)

// Validator checks payloads against the compiled definitions. A cue.Context
// is not safe for concurrent use, so every check holds mu.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[Kind]cue.Value
}

func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(payloadsCUE, cue.Filename("payloads.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}

	defs := make(map[Kind]cue.Value)
	for _, k := range []Kind{KindAnalysis, KindCompetition, KindPlan, KindExecution} {
		def := root.LookupPath(cue.ParsePath(string(k)))
		if !def.Exists() {
			return nil, fmt.Errorf("payload schema: definition %s missing", k)
		}
		defs[k] = def
	}
	return &Validator{ctx: ctx, defs: defs}, nil
}

// MustNew is New for package-level initialisation and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw against the kind's definition.
func (v *Validator) Validate(kind Kind, raw json.RawMessage) error {
	if !isObject(raw) {
		return ErrNotObject
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.defs[kind]
	if !ok {
		return fmt.Errorf("unknown payload kind %s", kind)
	}
	expr, err := cuejson.Extract(string(kind), raw)
	if err != nil {
		return fmt.Errorf("parse %s payload: %w", kind, err)
	}
	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return fmt.Errorf("build %s payload: %w", kind, err)
	}
	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s payload: %w", kind, err)
	}
	return nil
}

// Analysis decodes an analysis payload. A payload that fails validation is
// kept verbatim in Raw and the validation error is returned alongside it.
func (v *Validator) Analysis(raw json.RawMessage) (domain.Analysis, error) {
	var out domain.Analysis
	if err := v.Validate(KindAnalysis, raw); err != nil {
		out.Raw = clone(raw)
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Analysis{Raw: clone(raw)}, err
	}
	return out, nil
}

// Plan decodes a plan payload with the same fallback as Analysis.
func (v *Validator) Plan(raw json.RawMessage) (domain.Plan, error) {
	var out domain.Plan
	if err := v.Validate(KindPlan, raw); err != nil {
		out.Raw = clone(raw)
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Plan{Raw: clone(raw)}, err
	}
	return out, nil
}

// Execution decodes an execution payload with the same fallback as Analysis.
func (v *Validator) Execution(raw json.RawMessage) (domain.ExecutionResult, error) {
	var out domain.ExecutionResult
	if err := v.Validate(KindExecution, raw); err != nil {
		out.Raw = clone(raw)
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.ExecutionResult{Raw: clone(raw)}, err
	}
	return out, nil
}

// Competition decodes a competition payload. Invalid data yields nil so the
// caller's competition policy decides. competing_prs is accepted as an alias
// of competing_count. A missing count means zero only when a recommendation
// is present; a payload with neither is unusable.
func (v *Validator) Competition(raw json.RawMessage) (*domain.CompetitionAnalysis, error) {
	if err := v.Validate(KindCompetition, raw); err != nil {
		return nil, err
	}
	var fields struct {
		CompetingCount *int     `json:"competing_count"`
		CompetingPRs   *int     `json:"competing_prs"`
		Claimants      []string `json:"claimants"`
		Recommendation *string  `json:"recommendation"`
		Reason         *string  `json:"reason"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	hasRecommendation := fields.Recommendation != nil && *fields.Recommendation != ""
	if fields.CompetingCount == nil && fields.CompetingPRs == nil && !hasRecommendation {
		return nil, ErrNoVerdict
	}

	out := &domain.CompetitionAnalysis{
		Claimants:      fields.Claimants,
		Recommendation: domain.RecommendProceed,
	}
	switch {
	case fields.CompetingCount != nil:
		out.CompetingCount = *fields.CompetingCount
	case fields.CompetingPRs != nil:
		out.CompetingCount = *fields.CompetingPRs
	}
	if hasRecommendation {
		out.Recommendation = *fields.Recommendation
	}
	if fields.Reason != nil {
		out.Reason = *fields.Reason
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	return domain.ExecResult{Response: raw}.IsObject()
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

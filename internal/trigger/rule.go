// Package trigger maintains the rule index that maps events to the
// workflows they should start.
package trigger

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/autokit/internal/model"
)

// Rule is one workflow's subscription.
type Rule struct {
	WorkflowID string
	Kinds      []model.EventKind
	// Packages filters notification events by source package. Empty matches
	// every package. Non-notification kinds ignore it.
	Packages []string
}

// Matches reports whether ev satisfies the rule.
func (r Rule) Matches(ev model.Event) bool {
	if !slices.Contains(r.Kinds, ev.Kind) {
		return false
	}
	if !ev.Kind.IsNotification() || len(r.Packages) == 0 {
		return true
	}
	return slices.Contains(r.Packages, ev.SourcePackage)
}

// RuleError describes a definition whose trigger could not be used.
type RuleError struct {
	WorkflowID string
	Message    string
	Pos        token.Pos
}

func (e *RuleError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("workflow %s: trigger:%d:%d: %s", e.WorkflowID, e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("workflow %s: trigger: %s", e.WorkflowID, e.Message)
}

func kindDisjunction() string {
	quoted := make([]string, len(model.AllKinds))
	for i, k := range model.AllKinds {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return strings.Join(quoted, " | ")
}

var schemaSource = `
#Kind: ` + kindDisjunction() + `

#Trigger: {
	events: [#Kind, ...#Kind]
	packages?: [...(string & !="")]
}
`

type triggerSpec struct {
	Events   []string `json:"events"`
	Packages []string `json:"packages"`
}

// Parser extracts rules from workflow definitions. The trigger object is
// validated against a closed CUE schema.
type Parser struct {
	mu      sync.Mutex
	ctx     *cue.Context
	trigger cue.Value
}

// NewParser compiles the trigger schema.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("trigger.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile trigger schema: %w", err)
	}
	return &Parser{
		ctx:     ctx,
		trigger: schema.LookupPath(cue.ParsePath("#Trigger")),
	}, nil
}

// Parse returns the rule for w. A definition without a trigger object
// yields ok=false and no error.
func (p *Parser) Parse(w model.Workflow) (rule Rule, ok bool, err error) {
	if strings.TrimSpace(w.Definition) == "" {
		return Rule{}, false, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(w.Definition), &fields); err != nil {
		return Rule{}, false, &RuleError{WorkflowID: w.ID, Message: "definition is not a JSON object: " + err.Error()}
	}
	raw, found := fields["trigger"]
	if !found {
		return Rule{}, false, nil
	}

	spec, err := p.validate(w.ID, raw)
	if err != nil {
		return Rule{}, false, err
	}

	rule = Rule{WorkflowID: w.ID}
	for _, name := range spec.Events {
		k := model.EventKind(name)
		if !slices.Contains(rule.Kinds, k) {
			rule.Kinds = append(rule.Kinds, k)
		}
	}
	for _, pkg := range spec.Packages {
		if !slices.Contains(rule.Packages, pkg) {
			rule.Packages = append(rule.Packages, pkg)
		}
	}
	return rule, true, nil
}

func (p *Parser) validate(workflowID string, raw json.RawMessage) (triggerSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.ctx.CompileBytes(raw, cue.Filename("trigger"))
	if err := v.Err(); err != nil {
		return triggerSpec{}, ruleError(workflowID, err)
	}
	u := p.trigger.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return triggerSpec{}, ruleError(workflowID, err)
	}

	var spec triggerSpec
	if err := u.Decode(&spec); err != nil {
		return triggerSpec{}, ruleError(workflowID, err)
	}
	return spec, nil
}

func ruleError(workflowID string, err error) *RuleError {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &RuleError{WorkflowID: workflowID, Message: err.Error()}
	}
	first := errs[0]
	re := &RuleError{WorkflowID: workflowID, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		re.Pos = positions[0]
	}
	return re
}

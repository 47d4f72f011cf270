// Package gate implements the confirmation policy for tool calls.
//
// The gate is a pure decision function over the tool registry's mutation
// flags plus operator-configured policy rules. Rules can only add
// confirmation requirements; nothing a rule says can exempt a mutating tool
// that has not opted into auto-confirmation itself.
package gate

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/taskpilot/taskpilot/internal/tools"
)

// Rule is one policy expression evaluated against {tool, args}. A rule that
// evaluates to true forces confirmation for the call.
type Rule struct {
	Name string
	Expr string
}

// DefaultRules force confirmation for calls that look destructive even when
// the tool itself would auto-confirm.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "force-flag", Expr: `args.force == true`},
		{Name: "bulk-update", Expr: `tool == "update_task" && args.task_id == "all"`},
	}
}

type compiledRule struct {
	name    string
	program *vm.Program
}

// Gate decides whether a tool call must pause for explicit human approval.
type Gate struct {
	registry *tools.Registry
	rules    []compiledRule
}

// New compiles the policy rules against the registry. A rule that fails to
// compile is a configuration error, surfaced at startup.
func New(registry *tools.Registry, rules ...Rule) (*Gate, error) {
	g := &Gate{registry: registry}
	for _, r := range rules {
		program, err := expr.Compile(r.Expr, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("gate: compile rule %q: %w", r.Name, err)
		}
		g.rules = append(g.rules, compiledRule{name: r.Name, program: program})
	}
	return g, nil
}

// RequiresConfirmation reports whether the named call must be confirmed.
//
//   - unknown tools always require confirmation
//   - non-mutating tools never do, unless a rule matches
//   - mutating tools do by default; AutoConfirm opts out
//   - a matching rule forces confirmation regardless of AutoConfirm
func (g *Gate) RequiresConfirmation(toolName string, args map[string]interface{}) bool {
	tool, ok := g.registry.Get(toolName)
	if !ok {
		return true
	}

	if g.ruleMatches(toolName, args) {
		return true
	}

	if !tool.Mutating {
		return false
	}
	return !tool.AutoConfirm
}

func (g *Gate) ruleMatches(toolName string, args map[string]interface{}) bool {
	if len(g.rules) == 0 {
		return false
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	env := map[string]interface{}{
		"tool": toolName,
		"args": args,
	}
	for _, r := range g.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			// An unevaluable rule fails safe.
			return true
		}
		if matched, _ := out.(bool); matched {
			return true
		}
	}
	return false
}

package skipcond

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Guard is the declarative form of a skip-condition: a boolean program
// over the per-host result-handle environment, compiled once at task
// compile time and evaluated by the execution backend without a
// control-plane round trip.
type Guard struct {
	Cond      *Condition
	RefHandle string
	Source    string // rendered expression, stable across compiles
	program   *vm.Program
}

// guardEnv is the environment shape guard programs are compiled against.
var guardEnv = map[string]interface{}{
	"results": map[string]string{},
}

// GuardSource renders the condition as a deterministic boolean
// expression over the result-handle map.
func GuardSource(c *Condition, refHandle string) string {
	switch c.Kind {
	case PredNonEmpty:
		return fmt.Sprintf("trim(results[%q] ?? \"\") != \"\"", refHandle)
	case PredEmpty:
		return fmt.Sprintf("trim(results[%q] ?? \"\") == \"\"", refHandle)
	default:
		return fmt.Sprintf("trim(results[%q] ?? \"\") == %q", refHandle, c.Literal)
	}
}

// CompileGuard compiles the condition into an executable guard bound to
// the referenced check's stable result handle.
func CompileGuard(c *Condition, refHandle string) (*Guard, error) {
	source := GuardSource(c, refHandle)
	program, err := expr.Compile(source, expr.Env(guardEnv), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile guard %q: %w", source, err)
	}
	return &Guard{
		Cond:      c,
		RefHandle: refHandle,
		Source:    source,
		program:   program,
	}, nil
}

// Eval runs the guard against one host's collected results (handle →
// stdout). True means the guarded check is skipped on that host.
func (g *Guard) Eval(results map[string]string) (bool, error) {
	if results == nil {
		results = map[string]string{}
	}
	out, err := expr.Run(g.program, map[string]interface{}{"results": results})
	if err != nil {
		return false, fmt.Errorf("eval guard %q: %w", g.Source, err)
	}
	skip, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("guard %q did not return bool (got %T)", g.Source, out)
	}
	return skip, nil
}

// Reason exposes the underlying condition's skip reason.
func (g *Guard) Reason() string {
	return g.Cond.Reason()
}

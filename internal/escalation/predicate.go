package escalation

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// predicateCache compiles status-trigger expressions once and reuses the
// programs across evaluation passes.
type predicateCache struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newPredicateCache() (*predicateCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &predicateCache{env: env, programs: make(map[string]cel.Program)}, nil
}

var (
	sharedOnce       sync.Once
	sharedPredicates *predicateCache
	sharedErr        error
)

func defaultPredicates() (*predicateCache, error) {
	sharedOnce.Do(func() {
		sharedPredicates, sharedErr = newPredicateCache()
	})
	return sharedPredicates, sharedErr
}

func (c *predicateCache) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok = c.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("predicate must evaluate to bool, got %s", out)
	}
	prg, err := c.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	c.programs[expr] = prg
	return prg, nil
}

func (c *predicateCache) eval(expr string, vars map[string]any) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"request": vars})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate result is %T, not bool", out.Value())
	}
	return val, nil
}

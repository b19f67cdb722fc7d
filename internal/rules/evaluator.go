// Package rules evaluates auto-approve expressions attached to disbursement types
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// SampleEnv lists the variables an auto-approve rule may reference, with zero values
// of the right types. Rules are compiled against it so typos fail at load time.
func SampleEnv() map[string]interface{} {
	return map[string]interface{}{
		"amount":        float64(0),
		"currency":      "",
		"priority":      "",
		"urgent":        false,
		"department_id": "",
		"office_id":     "",
		"type_id":       "",
	}
}

// ExprEvaluator compiles expressions once and caches the programs
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty cache
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Compile checks that expression is a boolean expression over SampleEnv
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against env. The expression must yield a boolean.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to run rule %q: %w", expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean, got %T", expression, result)
	}
	return b, nil
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(SampleEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}

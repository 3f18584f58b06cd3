// Package celrule compiles and evaluates the CEL policy expressions carried
// by execrule.Rule when State == CEL (§4.2d, §9 "CEL compilation
// cacheability"). It adapts Sentinel Gate's adapter/outbound/cel package to
// the execution-rule identifier domain.
package celrule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/santa-policy/core/internal/domain/execrule"
)

// maxExpressionLength mirrors the teacher's SECU-05 expression length cap.
const maxExpressionLength = 1024

// maxCostBudget limits CEL runtime cost to prevent cost-exhaustion DoS
// (teacher's HARDEN-02).
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting (HARDEN-02).
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation (HARDEN-02).
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// NewRuleEnvironment builds the CEL environment for execution-rule
// expressions: the five identifier fields of an IdentifierSet, plus the
// standard string extensions (§4.2c "CEL dialect with standard library and
// string extensions").
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		cel.Variable("cdhash", cel.StringType),
		cel.Variable("binary_hash", cel.StringType),
		cel.Variable("signing_id", cel.StringType),
		cel.Variable("certificate_hash", cel.StringType),
		cel.Variable("team_id", cel.StringType),
	)
}

// Evaluator compiles and evaluates Rule.CELExpression values, caching
// compiled programs by source text (§9 "CEL compilation cacheability").
type Evaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates a new Evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("celrule: create environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// compile parses, type-checks, and builds a runnable program for expr
// without validating length/nesting limits.
func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting rejects expressions whose bracket nesting exceeds
// maxNestingDepth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks expr is syntactically valid, within the length
// and nesting limits, and compiles. It implements execrule.CELValidator, so
// execrule.Rule.Validate can call it without importing cel-go directly.
// On success, the compiled program is cached for later Evaluate calls.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}

	prg, err := e.compile(expr)
	if err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return nil
}

// Evaluate runs the CEL expression (compiling and caching it if not
// already cached) against the given identifier set. Returns true if the
// expression evaluates to a boolean true.
func (e *Evaluator) Evaluate(expr string, ids execrule.IdentifierSet) (bool, error) {
	prg, err := e.programFor(expr)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"cdhash":           ids.CDHash,
		"binary_hash":      ids.BinaryHash,
		"signing_id":       ids.SigningID,
		"certificate_hash": ids.CertificateHash,
		"team_id":          ids.TeamID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

func (e *Evaluator) programFor(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := e.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Compile-time interface verification.
var _ execrule.CELValidator = (*Evaluator)(nil)

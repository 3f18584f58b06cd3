package celrule

import (
	"strings"
	"testing"

	"github.com/santa-policy/core/internal/domain/execrule"
)

func TestEvaluator_ValidateExpression(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if err := e.ValidateExpression(""); err == nil {
		t.Error("ValidateExpression(\"\") = nil, want error")
	}

	if err := e.ValidateExpression(strings.Repeat("a", maxExpressionLength+1)); err == nil {
		t.Error("ValidateExpression() on an overlong expression = nil, want error")
	}

	deeplyNested := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	if err := e.ValidateExpression(deeplyNested); err == nil {
		t.Error("ValidateExpression() on deeply-nested expression = nil, want error")
	}

	if err := e.ValidateExpression("team_id == 'ABCDE12345'"); err != nil {
		t.Errorf("ValidateExpression() on valid expression error = %v, want nil", err)
	}

	if err := e.ValidateExpression("team_id =="); err == nil {
		t.Error("ValidateExpression() on syntactically invalid expression = nil, want error")
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	ids := execrule.IdentifierSet{TeamID: "ABCDE12345", SigningID: "ABCDE12345:com.example.app"}

	got, err := e.Evaluate("team_id == 'ABCDE12345'", ids)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !got {
		t.Error("Evaluate() = false, want true")
	}

	got, err = e.Evaluate("team_id == 'OTHER'", ids)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if got {
		t.Error("Evaluate() = true, want false")
	}

	if _, err := e.Evaluate("signing_id.contains('example')", ids); err != nil {
		t.Errorf("Evaluate() with string-extension function error = %v, want nil", err)
	}

	if _, err := e.Evaluate("team_id", ids); err == nil {
		t.Error("Evaluate() on a non-boolean expression = nil, want error")
	}
}

func TestEvaluator_CachesCompiledPrograms(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	const expr = "team_id == 'ABCDE12345'"
	if err := e.ValidateExpression(expr); err != nil {
		t.Fatalf("ValidateExpression() error: %v", err)
	}
	if _, ok := e.cache[expr]; !ok {
		t.Fatal("ValidateExpression() did not populate the compiled-program cache")
	}

	if _, err := e.Evaluate(expr, execrule.IdentifierSet{TeamID: "ABCDE12345"}); err != nil {
		t.Fatalf("Evaluate() on a pre-cached expression error: %v", err)
	}
}

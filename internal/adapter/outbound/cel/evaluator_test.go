package cel

import (
	"strings"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

// ---------------------------------------------------------------------------
// EvalCondition tests
// ---------------------------------------------------------------------------

func TestEvalCondition(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		name string
		expr string
		args map[string]any
		want bool
	}{
		{
			name: "string equality true",
			expr: `args.to == "boss@corp.com"`,
			args: map[string]any{"to": "boss@corp.com"},
			want: true,
		},
		{
			name: "string equality false",
			expr: `args.to == "boss@corp.com"`,
			args: map[string]any{"to": "friend@x.com"},
			want: false,
		},
		{
			name: "endsWith",
			expr: `args.to.endsWith("@corp.com")`,
			args: map[string]any{"to": "alice@corp.com"},
			want: true,
		},
		{
			name: "key presence check",
			expr: `"subject" in args`,
			args: map[string]any{"to": "x"},
			want: false,
		},
		{
			name: "numeric comparison on json number",
			expr: `args.attachments > 2.0`,
			args: map[string]any{"attachments": float64(3)},
			want: true,
		},
		{
			name: "boolean literal",
			expr: "true",
			args: nil,
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvalCondition(tt.expr, tt.args)
			if err != nil {
				t.Fatalf("EvalCondition: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvalCondition(%q, %v) = %v, want %v", tt.expr, tt.args, got, tt.want)
			}
		})
	}
}

func TestEvalCondition_MissingKeyIsError(t *testing.T) {
	e := newTestEvaluator(t)

	// Referencing an absent key errors rather than defaulting; the gate's
	// fail-open/fail-closed policy decides what happens next.
	if _, err := e.EvalCondition("args.missing == true", map[string]any{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestEvalCondition_NonBooleanResult(t *testing.T) {
	e := newTestEvaluator(t)

	if _, err := e.EvalCondition(`"just a string"`, nil); err == nil {
		t.Fatal("expected error for non-boolean expression")
	}
}

func TestEvalCondition_CompileError(t *testing.T) {
	e := newTestEvaluator(t)

	if _, err := e.EvalCondition("args.to ==", nil); err == nil {
		t.Fatal("expected compile error")
	}
	// Unknown variables are rejected: only `args` is declared.
	if _, err := e.EvalCondition(`tool == "x"`, nil); err == nil {
		t.Fatal("expected error for undeclared variable")
	}
}

func TestEvalCondition_CachesPrograms(t *testing.T) {
	e := newTestEvaluator(t)

	expr := `args.to == "a"`
	if _, err := e.EvalCondition(expr, map[string]any{"to": "a"}); err != nil {
		t.Fatalf("EvalCondition: %v", err)
	}

	e.mu.RLock()
	_, cached := e.programs[expr]
	e.mu.RUnlock()
	if !cached {
		t.Error("expected compiled program to be cached")
	}

	if _, err := e.EvalCondition(expr, map[string]any{"to": "b"}); err != nil {
		t.Fatalf("cached EvalCondition: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ValidateExpression tests
// ---------------------------------------------------------------------------

func TestValidateExpression(t *testing.T) {
	e := newTestEvaluator(t)

	if err := e.ValidateExpression(`args.to == "x"`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := e.ValidateExpression(""); err == nil {
		t.Error("expected error for empty expression")
	}
	if err := e.ValidateExpression("args.to =="); err == nil {
		t.Error("expected error for malformed expression")
	}

	long := `args.to == "` + strings.Repeat("x", maxExpressionLength) + `"`
	if err := e.ValidateExpression(long); err == nil {
		t.Error("expected error for overlong expression")
	}

	deep := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	if err := e.ValidateExpression(deep); err == nil {
		t.Error("expected error for overly nested expression")
	}
}

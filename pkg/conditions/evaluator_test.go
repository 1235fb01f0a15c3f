package conditions

import (
	"context"
	"testing"

	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func data() map[string]any {
	return map[string]any{
		"amount":   15000,
		"currency": "INR",
		"kyc":      map[string]any{"status": "verified", "level": 2},
		"deal":     map[string]any{"status": "funded", "sub-type": "reit"},
		"items":    []any{map[string]any{"qty": 3}},
		"steps": map[string]any{
			"check_balance": map[string]any{"conditionMet": true},
		},
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		expression string
		expected   bool
	}{
		{"greater than", "amount > 10000", true},
		{"placeholder form", "{{amount}} > 10000", true},
		{"placeholder with spaces", "{{ amount }} <= 10000", false},
		{"string equality", `currency == "INR"`, true},
		{"single quoted string", "{{deal.status}} == 'funded'", true},
		{"strict equality", "{{deal.status}} === 'funded'", true},
		{"strict inequality", "{{deal.status}} !== 'funded'", false},
		{"nested numeric", "kyc.level >= 2 && kyc.status == 'verified'", true},
		{"or", "amount < 10 || currency == 'USD'", false},
		{"not", "!(amount < 10)", true},
		{"arithmetic", "amount * 2 == 30000", true},
		{"hyphenated segment", "{{deal.sub-type}} == 'reit'", true},
		{"list elements are not addressed", "{{items.0.qty}} == 3", false},
		{"prior step output", "{{steps.check_balance.conditionMet}}", true},
		{"literal true", "true", true},
		{"numeric truthiness", "amount", true},
		{"string truthiness", "currency", false},
		{"missing operand", "{{missing}} > 5", false},
		{"missing equality", "{{missing}} == 'x'", false},
		{"missing inequality", "missing != 'x'", false},
		{"missing placeholder inequality", "{{kyc.missing}} != 5", false},
		{"missing nested inequality", "deal.nope != 'funded'", false},
		{"missing compared to nil", "missing == nil", false},
		{"negated missing", "!missing", false},
		{"missing below a scalar", "{{amount.value}} != 1", false},
		{"missing env key", `$env["2fa"] != true`, false},
		{"missing inside or", "missing == 'x' || amount > 1", false},
		{"strict operators inside strings", `currency !== "a===b"`, true},
		{"strict equality literal kept", `deal.status == "funded==="`, false},
		{"malformed", "amount >>> 5", false},
		{"unbalanced", "(amount > 5", false},
		{"empty", "", false},
		{"builtin call rejected", "len(currency) == 3", false},
	}

	evaluator := NewEvaluator(log.Discard())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, evaluator.Evaluate(context.Background(), tt.expression, data()))
		})
	}
}

func TestEvaluator_EvalReportsErrors(t *testing.T) {
	t.Parallel()

	evaluator := NewEvaluator(log.Discard())

	_, err := evaluator.Eval("amount >>> 5", data())
	require.Error(t, err)

	assert.Error(t, evaluator.Compile("(a"))
	assert.NoError(t, evaluator.Compile("{{a.b}} == 1"))
}

func TestEvaluator_MissingOperandError(t *testing.T) {
	t.Parallel()

	evaluator := NewEvaluator(log.Discard())

	_, err := evaluator.Eval("deal.nope != 'funded'", data())
	require.ErrorIs(t, err, ErrMissingOperand)
	assert.Contains(t, err.Error(), "deal.nope")

	result, err := evaluator.Eval("deal.status != 'open'", data())
	require.NoError(t, err)
	assert.True(t, result)

	result, err = evaluator.Eval("empty == nil", map[string]any{"empty": nil})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	t.Parallel()

	evaluator := NewEvaluator(log.Discard())

	assert.True(t, evaluator.Evaluate(context.Background(), "amount > 1", map[string]any{"amount": 2}))
	assert.False(t, evaluator.Evaluate(context.Background(), "amount > 1", map[string]any{"amount": 0.5}))
	assert.Len(t, evaluator.cache, 1)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user.kyc == 'ok'", Normalize("{{ user.kyc }} === 'ok'"))
	assert.Equal(t, `deal["sub-type"]`, Normalize("{{deal.sub-type}}"))
	assert.Equal(t, "items[0].qty", Normalize("{{items.0.qty}}"))
	assert.Equal(t, `$env["2fa"]`, Normalize("{{2fa}}"))
	assert.Equal(t, `a != 1 && b == "x===y"`, Normalize(`a !== 1 && b === "x===y"`))
	assert.Equal(t, `name == 'a!==b'`, Normalize(`name == 'a!==b'`))
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	assert.False(t, Truthy(nil))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("true"))
	assert.False(t, Truthy("yes"))
	assert.True(t, Truthy(3))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(map[string]any{}))
}

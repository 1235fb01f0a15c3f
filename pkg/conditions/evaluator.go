// Package conditions evaluates the boolean expressions of condition steps.
//
// Expressions use a constrained grammar: comparisons, boolean operators, arithmetic,
// literals and dotted identifiers that read from the execution context. Builtin
// functions are disabled and the environment carries no callables, so evaluating an
// expression can never run arbitrary code.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/parser/lexer"
	"github.com/expr-lang/expr/vm"
	"github.com/fractal-assets/flowengine/pkg/template"
	"github.com/spf13/cast"
)

// ErrMissingOperand is returned when an expression reads a path the context does not hold.
var ErrMissingOperand = errors.New("missing operand")

var (
	placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)
	identifier  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Evaluator compiles expressions once and caches the programs. Safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*compiled
}

type compiled struct {
	program *vm.Program
	// operands are the context paths the expression reads; all must be present.
	operands [][]string
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "conditions"),
		cache:  make(map[string]*compiled),
	}
}

// Evaluate returns the truth value of expression against data. Malformed
// expressions, runtime errors and missing operands all evaluate to false.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]any) bool {
	result, err := e.Eval(expression, data)
	if err != nil {
		e.logger.WarnContext(ctx, "condition evaluated to false", "expression", expression, "error", err)

		return false
	}

	return result
}

// Eval is Evaluate with the error exposed.
func (e *Evaluator) Eval(expression string, data map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	for _, operand := range prg.operands {
		if _, ok := template.LookupSegments(env, operand); !ok {
			return false, fmt.Errorf("evaluate %q: %w: %s", expression, ErrMissingOperand, strings.Join(operand, "."))
		}
	}

	out, err := vm.Run(prg.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}

	return Truthy(out), nil
}

// Compile checks that expression parses, without evaluating it.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)

	return err
}

func (e *Evaluator) program(expression string) (*compiled, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	source := Normalize(expression)
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("empty condition")
	}

	prg, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	tree, err := parser.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, err)
	}

	collector := &operandCollector{}
	ast.Walk(&tree.Node, collector)

	entry := &compiled{program: prg, operands: collector.paths}
	e.cache[expression] = entry

	return entry, nil
}

// operandCollector records every identifier and constant member chain in an expression,
// prefixes included.
type operandCollector struct {
	paths [][]string
}

func (c *operandCollector) Visit(node *ast.Node) {
	switch (*node).(type) {
	case *ast.IdentifierNode, *ast.MemberNode:
		if path, ok := operandPath(*node); ok && len(path) > 0 {
			c.paths = append(c.paths, path)
		}
	}
}

// operandPath flattens a.b["c"] into [a b c]. Chains with computed or optional members are
// not operands; their constant prefixes are visited on their own.
func operandPath(node ast.Node) ([]string, bool) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		if n.Value == "$env" {
			return []string{}, true
		}

		return []string{n.Value}, true
	case *ast.MemberNode:
		if n.Optional || n.Method {
			return nil, false
		}

		parent, ok := operandPath(n.Node)
		if !ok {
			return nil, false
		}

		switch property := n.Property.(type) {
		case *ast.StringNode:
			return append(parent, property.Value), true
		case *ast.IntegerNode:
			return append(parent, strconv.Itoa(property.Value)), true
		}
	}

	return nil, false
}

// Normalize rewrites {{ path }} references into member accesses on the environment
// and maps strict equality operators onto their plain forms.
func Normalize(expression string) string {
	out := placeholder.ReplaceAllStringFunc(expression, func(match string) string {
		return accessor(placeholder.FindStringSubmatch(match)[1])
	})

	return relaxStrictEquality(out)
}

// relaxStrictEquality turns === and !== into == and != by dropping the trailing "=" token.
// Working on tokens leaves string literals untouched. Sources that do not lex are returned
// as they are so that compilation reports the error.
func relaxStrictEquality(source string) string {
	if !strings.Contains(source, "==") {
		return source
	}

	tokens, err := lexer.Lex(file.NewSource(source))
	if err != nil {
		return source
	}

	drop := make(map[int]bool)

	for i := 1; i < len(tokens); i++ {
		prev, tok := tokens[i-1], tokens[i]
		if tok.Is(lexer.Operator, "=") && prev.Is(lexer.Operator, "==", "!=") && prev.To == tok.From {
			drop[tok.From] = true
		}
	}

	if len(drop) == 0 {
		return source
	}

	var b strings.Builder

	for i, r := range []rune(source) {
		if !drop[i] {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func accessor(path string) string {
	segments := strings.Split(path, ".")

	var b strings.Builder

	if identifier.MatchString(segments[0]) {
		b.WriteString(segments[0])
	} else {
		b.WriteString("$env[" + strconv.Quote(segments[0]) + "]")
	}

	for _, segment := range segments[1:] {
		switch {
		case identifier.MatchString(segment):
			b.WriteString("." + segment)
		case isIndex(segment):
			b.WriteString("[" + segment + "]")
		default:
			b.WriteString("[" + strconv.Quote(segment) + "]")
		}
	}

	return b.String()
}

func isIndex(segment string) bool {
	_, err := strconv.Atoi(segment)

	return err == nil
}

// Truthy coerces an expression result to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))

		return err == nil && b
	}

	f, err := cast.ToFloat64E(value)
	if err != nil {
		return false
	}

	return f != 0
}

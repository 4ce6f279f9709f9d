package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/goliatone/go-signatures/core"
)

const (
	defaultCostLimit        uint64 = 10000
	defaultCacheSize               = 512
	interruptCheckFrequency uint   = 64
)

// Condition is a compiled, side-effect free rule condition.
type Condition struct {
	source  string
	program cel.Program
}

func (c *Condition) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Eval runs the condition against the transaction. A non-boolean result is an error.
func (c *Condition) Eval(ctx context.Context, tx core.TransactionContext) (bool, error) {
	if c == nil || c.program == nil {
		return false, fmt.Errorf("routing: condition is not compiled")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out, _, err := c.program.ContextEval(ctx, activation(tx))
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("routing: condition returned %s, want bool", out.Type())
	}
	return matched, nil
}

func activation(tx core.TransactionContext) map[string]any {
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"amount":      tx.Amount,
		"currency":    tx.Currency,
		"merchant_id": tx.MerchantID,
		"order_id":    tx.OrderID,
		"metadata":    metadata,
	}
}

// Compiler turns condition text into programs over a fixed, read-only transaction
// environment. Compiled programs are cached by source text.
type Compiler struct {
	env       *cel.Env
	costLimit uint64
	cacheSize int

	mu    sync.RWMutex
	cache map[string]*Condition
}

type CompilerOption func(*Compiler)

func WithCostLimit(limit uint64) CompilerOption {
	return func(c *Compiler) {
		if limit > 0 {
			c.costLimit = limit
		}
	}
}

func WithCacheSize(size int) CompilerOption {
	return func(c *Compiler) {
		if size > 0 {
			c.cacheSize = size
		}
	}
}

func NewCompiler(opts ...CompilerOption) (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("order_id", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("routing: build condition environment: %w", err)
	}
	compiler := &Compiler{
		env:       env,
		costLimit: defaultCostLimit,
		cacheSize: defaultCacheSize,
		cache:     map[string]*Condition{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(compiler)
		}
	}
	return compiler, nil
}

// MustNewCompiler is NewCompiler for static wiring.
func MustNewCompiler(opts ...CompilerOption) *Compiler {
	compiler, err := NewCompiler(opts...)
	if err != nil {
		panic(err)
	}
	return compiler
}

// Compile type-checks a condition. Undeclared identifiers, unknown functions and
// non-boolean expressions are rejected with core.ErrInvalidRuleCondition.
func (c *Compiler) Compile(source string) (*Condition, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: condition is empty", core.ErrInvalidRuleCondition)
	}

	c.mu.RLock()
	cached, ok := c.cache[source]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidRuleCondition, issues.Err().Error())
	}
	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: condition must evaluate to bool, got %s", core.ErrInvalidRuleCondition, outputType)
	}
	program, err := c.env.Program(ast,
		cel.CostLimit(c.costLimit),
		cel.InterruptCheckFrequency(interruptCheckFrequency),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidRuleCondition, err.Error())
	}

	condition := &Condition{source: source, program: program}
	c.mu.Lock()
	if len(c.cache) >= c.cacheSize {
		c.cache = map[string]*Condition{}
	}
	c.cache[source] = condition
	c.mu.Unlock()
	return condition, nil
}

// Validate compiles a condition without keeping the result.
func (c *Compiler) Validate(source string) error {
	_, err := c.Compile(source)
	return err
}

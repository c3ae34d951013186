package flowcontrol

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/cel-go/cel"
)

// Priority reorders items by an integer CEL expression, lowest first. It
// never drops items. Available variables: sequence, fragment, size (ints) and
// kind (string, e.g. "ALIVE").
type Priority struct {
	expr     string
	prog     cel.Program
	disabled atomic.Bool
}

// NewPriority compiles expr.
func NewPriority(expr string) (*Priority, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("priority: empty expression")
	}
	env, err := cel.NewEnv(
		cel.Variable("sequence", cel.IntType),
		cel.Variable("fragment", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("kind", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "priority: env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "priority: compile %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.IntType) {
		return nil, errors.Newf("priority: %q must evaluate to int, got %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "priority: program")
	}
	return &Priority{expr: expr, prog: prog}, nil
}

func (c *Priority) Name() string { return "priority(" + c.expr + ")" }

func (c *Priority) Apply(items []Item) []Item {
	if c.disabled.Load() {
		return items[:0]
	}
	keys := make([]int64, len(items))
	for i, it := range items {
		keys[i] = c.eval(it)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	out := make([]Item, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

// eval maps evaluation errors to the lowest priority.
func (c *Priority) eval(it Item) int64 {
	var seq int64
	kind := ""
	if it.Change != nil {
		seq = int64(it.Change.SequenceNumber)
		kind = it.Change.Kind.String()
	}
	out, _, err := c.prog.Eval(map[string]any{
		"sequence": seq,
		"fragment": int64(it.Fragment),
		"size":     int64(it.Size),
		"kind":     kind,
	})
	if err != nil {
		return int64(^uint64(0) >> 1)
	}
	v, ok := out.Value().(int64)
	if !ok {
		return int64(^uint64(0) >> 1)
	}
	return v
}

func (c *Priority) NotifySent(Item) {}

func (c *Priority) NextAvailable(now time.Time) time.Time { return now }

func (c *Priority) Disable() { c.disabled.Store(true) }

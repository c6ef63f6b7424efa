// Package script compiles Lua expressions into event filters.
//
// A filter source is either a single expression or a chunk that returns a
// value. Each evaluation sees the event through globals:
//
//	sourceID    the event source ID
//	timestamp   milliseconds since the Unix epoch
//	type        the Go type name of the event
//	event       a table with the fields above plus the event attributes
//
// For example:
//
//	sourceID == "thermo-1" and event.value > 30
//
// The result is truthy in the Lua sense: anything but nil and false matches.
package script

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/sensorbus/internal/event"
)

// DefaultEvalTimeout bounds a single evaluation.
const DefaultEvalTimeout = 100 * time.Millisecond

// Errors for filter compilation and evaluation.
var (
	// ErrEmptyFilter is returned when compiling blank source.
	ErrEmptyFilter = errors.New("empty filter expression")

	// ErrFilterClosed is returned when evaluating a closed filter.
	ErrFilterClosed = errors.New("filter is closed")
)

// Attributed is implemented by events that expose payload attributes to
// filters, such as decoded JSON records.
type Attributed interface {
	Attributes() map[string]any
}

// Filter is a compiled Lua predicate over events.
//
// gopher-lua states are not goroutine-safe; evaluations are serialized on
// the filter's own state.
type Filter struct {
	mu     sync.Mutex
	L      *lua.LState
	proto  *lua.FunctionProto
	closed bool

	source  string
	timeout time.Duration
	logger  *logrus.Entry

	evaluated atomic.Int64
	failed    atomic.Int64
}

// Option configures a Filter.
type Option func(*Filter)

// WithEvalTimeout sets the per-evaluation timeout.
func WithEvalTimeout(d time.Duration) Option {
	return func(f *Filter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger used for evaluation failures.
func WithLogger(logger *logrus.Entry) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Compile parses source and prepares a sandboxed Lua state for it.
func Compile(source string, opts ...Option) (*Filter, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyFilter
	}

	proto, err := compile(source)
	if err != nil {
		return nil, err
	}

	f := &Filter{
		proto:   proto,
		source:  source,
		timeout: DefaultEvalTimeout,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithField("component", "script")

	f.L = newSandboxedState()
	return f, nil
}

// compile tries source as an expression first and falls back to a chunk.
func compile(source string) (*lua.FunctionProto, error) {
	const name = "<filter>"

	chunk, err := parse.Parse(strings.NewReader("return "+source), name)
	if err != nil {
		var chunkErr error
		chunk, chunkErr = parse.Parse(strings.NewReader(source), name)
		if chunkErr != nil {
			return nil, fmt.Errorf("compile filter: %w", chunkErr)
		}
	}

	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return proto, nil
}

// newSandboxedState opens only the safe standard libraries and removes the
// loaders that could read code from disk or strings.
func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Source returns the filter source as written.
func (f *Filter) Source() string {
	return f.source
}

// Match evaluates the filter against e.
func (f *Filter) Match(e event.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, ErrFilterClosed
	}
	f.evaluated.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	f.L.SetContext(ctx)
	defer f.L.RemoveContext()

	f.bind(e)

	top := f.L.GetTop()
	f.L.Push(f.L.NewFunctionFromProto(f.proto))
	if err := f.call(); err != nil {
		f.L.SetTop(top)
		f.failed.Add(1)
		return false, err
	}

	result := f.L.Get(-1)
	f.L.SetTop(top)
	return lua.LVAsBool(result), nil
}

// call runs the pushed function with panic recovery.
func (f *Filter) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return f.L.PCall(0, 1, nil)
}

// bind exposes e to the script as globals.
func (f *Filter) bind(e event.Event) {
	L := f.L
	tbl := L.NewTable()

	if a, ok := e.(Attributed); ok {
		attrs := a.Attributes()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLValue(L, attrs[k]))
		}
	}

	sourceID := lua.LString(e.SourceID())
	timestamp := lua.LNumber(e.Timestamp())
	typ := lua.LString(reflect.TypeOf(e).String())

	tbl.RawSetString("sourceID", sourceID)
	tbl.RawSetString("timestamp", timestamp)
	tbl.RawSetString("type", typ)

	L.SetGlobal("event", tbl)
	L.SetGlobal("sourceID", sourceID)
	L.SetGlobal("timestamp", timestamp)
	L.SetGlobal("type", typ)
}

// Predicate adapts the filter for subscriptions. Evaluation errors count
// as no match and are logged.
func (f *Filter) Predicate() event.Predicate {
	return func(e event.Event) bool {
		ok, err := f.Match(e)
		if err != nil {
			f.logger.WithError(err).WithFields(logrus.Fields{
				"filter": f.source,
				"src":    e.SourceID(),
			}).Warn("Filter evaluation failed, event rejected")
			return false
		}
		return ok
	}
}

// Stats returns the number of evaluations and failed evaluations.
func (f *Filter) Stats() (evaluated, failed int64) {
	return f.evaluated.Load(), f.failed.Load()
}

// Close releases the Lua state. Later evaluations fail with ErrFilterClosed.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.L.Close()
}

// toLValue converts decoded JSON and Go scalar values to Lua values.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLValue(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLValue(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

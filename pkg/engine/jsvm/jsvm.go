// Package jsvm runs JavaScript in process on the goja engine. Every execution
// gets a fresh runtime with no host objects besides scriptArgs and a
// console that writes to the structured log. When the context carries an
// engine.Requester, a synchronous httpRequest function is installed too.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dop251/goja"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
)

const gojaModule = "github.com/dop251/goja"

// Options configure the goja driver.
type Options struct {
	// Version is the driver version checked against the registry constraint.
	Version string
	// Timeout bounds a single execution; zero means only the caller's context applies.
	Timeout time.Duration
}

// Interpreter implements engine.Interpreter on goja.
type Interpreter struct {
	timeout time.Duration
	logger  *slog.Logger
}

func New(timeout time.Duration) *Interpreter {
	return &Interpreter{
		timeout: timeout,
		logger:  slog.Default().With("component", "jsvm"),
	}
}

// NewDriver builds the JsRuntime driver. Its identity is the content hash of
// the engine build (goja module version plus driver version), so a different
// engine build yields a different identity in attestations.
func NewDriver(opts Options) (*engine.Driver, error) {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	v, err := semver.NewVersion(opts.Version)
	if err != nil {
		return nil, fmt.Errorf("jsvm version %q: %w", opts.Version, err)
	}
	build := fmt.Sprintf("jsvm/%s@%s/%s", gojaModule, gojaVersion(), v)
	return &engine.Driver{
		Name:        engine.JSRuntime,
		Version:     v,
		Identity:    crypto.AccountID(crypto.HashString(build)),
		Interpreter: New(opts.Timeout),
	}, nil
}

func gojaVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == gojaModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "unknown"
}

// Execute runs fragments in one runtime and returns the value of the last one.
// A returned promise is unwrapped once the job queue has drained.
func (in *Interpreter) Execute(ctx context.Context, fragments []string, args []string) (engine.Value, error) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return engine.Value{}, engine.Faultf("execution not started: %v", err)
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	items := make([]interface{}, len(args))
	for i, a := range args {
		items[i] = a
	}
	if err := vm.Set("scriptArgs", vm.NewArray(items...)); err != nil {
		return engine.Value{}, fmt.Errorf("jsvm: %w", err)
	}
	if err := vm.Set("console", in.console(vm)); err != nil {
		return engine.Value{}, fmt.Errorf("jsvm: %w", err)
	}
	if r, ok := engine.RequesterFrom(ctx); ok {
		if err := vm.Set("httpRequest", httpRequest(ctx, vm, r)); err != nil {
			return engine.Value{}, fmt.Errorf("jsvm: %w", err)
		}
	}

	var last goja.Value
	for i, src := range fragments {
		v, err := vm.RunString(src)
		if err != nil {
			return engine.Value{}, fault(i, err)
		}
		last = v
	}

	if p, ok := exportPromise(last); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			last = p.Result()
		case goja.PromiseStateRejected:
			return engine.Value{}, engine.Faultf("promise rejected: %s", p.Result())
		default:
			return engine.Value{}, engine.Faultf("promise never settled")
		}
	}
	return toValue(last), nil
}

func (in *Interpreter) console(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		in.logger.Debug("script log", "message", strings.Join(parts, " "))
		return goja.Undefined()
	}
	_ = obj.Set("log", logFn)
	_ = obj.Set("error", logFn)
	return obj
}

// httpRequest takes {method, url, headers, body} and returns
// {statusCode, headers, body}. Transport failures throw.
func httpRequest(ctx context.Context, vm *goja.Runtime, r engine.Requester) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		opts, ok := call.Argument(0).Export().(map[string]interface{})
		if !ok {
			panic(vm.NewTypeError("httpRequest expects an options object"))
		}
		req := engine.HTTPRequest{
			Method: stringField(opts, "method"),
			URL:    stringField(opts, "url"),
			Body:   stringField(opts, "body"),
		}
		if h, ok := opts["headers"].(map[string]interface{}); ok {
			req.Headers = make(map[string]string, len(h))
			for k, v := range h {
				req.Headers[k] = fmt.Sprint(v)
			}
		}

		resp, err := r.Do(ctx, req)
		if err != nil {
			panic(vm.NewGoError(err))
		}

		headers := vm.NewObject()
		for k, v := range resp.Headers {
			_ = headers.Set(k, v)
		}
		out := vm.NewObject()
		_ = out.Set("statusCode", resp.StatusCode)
		_ = out.Set("headers", headers)
		_ = out.Set("body", resp.Body)
		return out
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func fault(fragment int, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return engine.Faultf("execution interrupted: %v", interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return engine.Faultf("%s", ex.Value())
	}
	return engine.Faultf("fragment %d: %v", fragment, err)
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

func toValue(v goja.Value) engine.Value {
	if v == nil || goja.IsUndefined(v) {
		return engine.Undefined()
	}
	if goja.IsNull(v) {
		return engine.Other("null")
	}
	switch x := v.Export().(type) {
	case string:
		return engine.String(x)
	case goja.ArrayBuffer:
		return engine.Bytes(x.Bytes())
	case []byte:
		return engine.Bytes(x)
	default:
		return engine.Other(fmt.Sprintf("%T %s", x, v.String()))
	}
}

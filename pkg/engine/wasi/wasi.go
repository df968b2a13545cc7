// Package wasi runs script interpreters compiled to WebAssembly on wazero.
//
// The module is a WASI command. It reads one JSON request from stdin,
//
//	{"fragments": ["..."], "args": ["..."]}
//
// and writes one JSON result to stdout:
//
//	{"kind": "string|bytes|undefined|other", "value": "...", "error": "..."}
//
// where bytes values are base64 and a non-empty error is a script fault.
// Deny-by-default: no filesystem, no network, no environment, no clocks.
package wasi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/kvinwang/gpt-prover/pkg/blobstore"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
)

// DefaultOutputMaxBytes caps what a module may write to stdout.
const DefaultOutputMaxBytes = 1 << 20

// Config holds the limits applied to every execution.
type Config struct {
	MemoryLimitBytes int64
	Timeout          time.Duration
	OutputMaxBytes   int
}

// Interpreter implements engine.Interpreter for one compiled module.
type Interpreter struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	limits   Config
}

type request struct {
	Fragments []string `json:"fragments"`
	Args      []string `json:"args"`
}

type response struct {
	Kind  engine.ValueKind `json:"kind"`
	Value string           `json:"value"`
	Error string           `json:"error,omitempty"`
}

// New compiles module once; each Execute instantiates it afresh.
func New(ctx context.Context, module []byte, cfg Config) (*Interpreter, error) {
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = DefaultOutputMaxBytes
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitBytes > 0 {
		// wazero measures memory in 64KiB pages
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, module)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasi: compilation failed: %w", err)
	}
	return &Interpreter{runtime: r, compiled: compiled, limits: cfg}, nil
}

func (in *Interpreter) Execute(ctx context.Context, fragments []string, args []string) (engine.Value, error) {
	if in.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.limits.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(request{Fragments: fragments, Args: args})
	if err != nil {
		return engine.Value{}, fmt.Errorf("wasi: encode request: %w", err)
	}

	stdout := &limitedBuffer{max: in.limits.OutputMaxBytes}
	var stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(input)).
		WithStdout(stdout).
		WithStderr(&stderr)

	mod, err := in.runtime.InstantiateModule(ctx, in.compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(context.Background()) }()
	}
	if err != nil {
		var exit *sys.ExitError
		switch {
		case ctx.Err() != nil:
			return engine.Value{}, engine.Faultf("execution interrupted: %v", ctx.Err())
		case errors.As(err, &exit) && exit.ExitCode() == 0:
		case errors.As(err, &exit):
			return engine.Value{}, engine.Faultf("exit code %d: %s", exit.ExitCode(), stderr.String())
		default:
			return engine.Value{}, engine.Faultf("trap: %v", err)
		}
	}
	if stdout.overflow {
		return engine.Value{}, engine.Faultf("output exceeds %d bytes", in.limits.OutputMaxBytes)
	}
	return decode(stdout.Bytes())
}

func decode(out []byte) (engine.Value, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return engine.Value{}, engine.Faultf("module produced no result")
	}
	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		return engine.Value{}, engine.Faultf("malformed result: %v", err)
	}
	if resp.Error != "" {
		return engine.Value{}, engine.Faultf("%s", resp.Error)
	}
	switch resp.Kind {
	case engine.KindString:
		return engine.String(resp.Value), nil
	case engine.KindBytes:
		b, err := base64.StdEncoding.DecodeString(resp.Value)
		if err != nil {
			return engine.Value{}, engine.Faultf("malformed bytes result: %v", err)
		}
		return engine.Bytes(b), nil
	case engine.KindUndefined:
		return engine.Undefined(), nil
	default:
		return engine.Other(resp.Value), nil
	}
}

// Close shuts down the wazero runtime.
func (in *Interpreter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return in.runtime.Close(ctx)
}

// NewDriver loads the module with content hash h from store and wraps it as
// the JsRuntime driver. The module hash is the driver identity.
func NewDriver(ctx context.Context, store blobstore.Store, h crypto.Hash, version string, cfg Config) (*engine.Driver, *Interpreter, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, nil, fmt.Errorf("wasi version %q: %w", version, err)
	}
	module, err := store.Get(ctx, h)
	if err != nil {
		return nil, nil, fmt.Errorf("wasi: load module %s: %w", h, err)
	}
	in, err := New(ctx, module, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &engine.Driver{
		Name:        engine.JSRuntime,
		Version:     v,
		Identity:    crypto.AccountID(h),
		Interpreter: in,
	}, in, nil
}

type limitedBuffer struct {
	bytes.Buffer
	max      int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.max {
		b.overflow = true
		return 0, errors.New("output limit exceeded")
	}
	return b.Buffer.Write(p)
}

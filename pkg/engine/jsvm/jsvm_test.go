package jsvm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/engine"
)

const initFragment = "globalThis.secretData = scriptArgs.pop();"

func run(t *testing.T, code string, args ...string) (engine.Value, error) {
	t.Helper()
	return New(2*time.Second).Execute(context.Background(), []string{code}, args)
}

func TestExecute_String(t *testing.T) {
	v, err := run(t, `"hello " + scriptArgs[0]`, "world")
	require.NoError(t, err)
	assert.Equal(t, engine.String("hello world"), v)
}

func TestExecute_SharedScopeAcrossFragments(t *testing.T) {
	v, err := New(time.Second).Execute(context.Background(),
		[]string{initFragment, `scriptArgs.length + ":" + secretData`},
		[]string{"a", "b", "s3cret"},
	)
	require.NoError(t, err)
	assert.Equal(t, engine.String("2:s3cret"), v)
}

func TestExecute_NonStringResults(t *testing.T) {
	v, err := run(t, `1 + 1`)
	require.NoError(t, err)
	assert.Equal(t, engine.KindOther, v.Kind)

	v, err = run(t, `undefined`)
	require.NoError(t, err)
	assert.Equal(t, engine.KindUndefined, v.Kind)

	v, err = run(t, `null`)
	require.NoError(t, err)
	assert.Equal(t, engine.KindOther, v.Kind)

	v, err = run(t, `new Uint8Array([1, 2, 3]).buffer`)
	require.NoError(t, err)
	assert.Equal(t, engine.Bytes([]byte{1, 2, 3}), v)
}

func TestExecute_Promises(t *testing.T) {
	v, err := run(t, `(async () => { await null; return "later"; })()`)
	require.NoError(t, err)
	assert.Equal(t, engine.String("later"), v)

	_, err = run(t, `Promise.reject(new Error("nope"))`)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err))
	assert.Contains(t, err.Error(), "nope")

	_, err = run(t, `new Promise(() => {})`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never settled")
}

func TestExecute_Faults(t *testing.T) {
	_, err := run(t, `throw new Error("boom")`)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err))
	assert.Contains(t, err.Error(), "boom")

	_, err = run(t, `this is not javascript`)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err))

	_, err = run(t, `fetch("https://example.com")`)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err), "no host network objects are exposed")
}

func TestExecute_Timeout(t *testing.T) {
	start := time.Now()
	_, err := New(50*time.Millisecond).Execute(context.Background(), []string{`while (true) {}`}, nil)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err))
	assert.Contains(t, err.Error(), "interrupted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(0).Execute(ctx, []string{`"x"`}, nil)
	assert.True(t, engine.IsFault(err))
}

func TestExecute_ConsoleIsHarmless(t *testing.T) {
	v, err := run(t, `console.log("hi", 1); "done"`)
	require.NoError(t, err)
	assert.Equal(t, engine.String("done"), v)
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver(Options{Version: "1.4.0"})
	require.NoError(t, err)
	assert.Equal(t, engine.JSRuntime, d.Name)
	assert.Equal(t, "1.4.0", d.Version.String())
	assert.False(t, d.Identity.IsZero())

	same, err := NewDriver(Options{Version: "1.4.0"})
	require.NoError(t, err)
	assert.Equal(t, d.Identity, same.Identity)

	other, err := NewDriver(Options{Version: "1.5.0"})
	require.NoError(t, err)
	assert.NotEqual(t, d.Identity, other.Identity)

	_, err = NewDriver(Options{Version: "one"})
	assert.Error(t, err)
}

func TestExecute_NoHTTPRequestByDefault(t *testing.T) {
	v, err := run(t, `typeof httpRequest`)
	require.NoError(t, err)
	assert.Equal(t, engine.String("undefined"), v)
}

func TestExecute_HTTPRequest(t *testing.T) {
	var seen engine.HTTPRequest
	r := engine.RequesterFunc(func(_ context.Context, req engine.HTTPRequest) (*engine.HTTPResponse, error) {
		seen = req
		return &engine.HTTPResponse{
			StatusCode: 200,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"answer":"42"}`,
		}, nil
	})
	ctx := engine.WithRequester(context.Background(), r)

	v, err := New(time.Second).Execute(ctx, []string{`
		var resp = httpRequest({
			method: "POST",
			url: scriptArgs[0],
			headers: {"Authorization": "Bearer " + scriptArgs[1]},
			body: JSON.stringify({q: 1})
		});
		resp.statusCode + " " + resp.headers["content-type"] + " " + JSON.parse(resp.body).answer
	`}, []string{"https://api.example/v1", "k"})
	require.NoError(t, err)
	assert.Equal(t, engine.String("200 application/json 42"), v)

	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "https://api.example/v1", seen.URL)
	assert.Equal(t, "Bearer k", seen.Headers["Authorization"])
	assert.JSONEq(t, `{"q":1}`, seen.Body)
}

func TestExecute_HTTPRequestFailureThrows(t *testing.T) {
	r := engine.RequesterFunc(func(context.Context, engine.HTTPRequest) (*engine.HTTPResponse, error) {
		return nil, errors.New("connection refused")
	})
	ctx := engine.WithRequester(context.Background(), r)
	in := New(time.Second)

	_, err := in.Execute(ctx, []string{`httpRequest({url: "https://down.example"})`}, nil)
	require.Error(t, err)
	assert.True(t, engine.IsFault(err))
	assert.Contains(t, err.Error(), "connection refused")

	v, err := in.Execute(ctx, []string{`
		try { httpRequest({url: "https://down.example"}); "no" } catch (e) { "caught" }
	`}, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.String("caught"), v)

	_, err = in.Execute(ctx, []string{`httpRequest("nope")`}, nil)
	assert.True(t, engine.IsFault(err))
}

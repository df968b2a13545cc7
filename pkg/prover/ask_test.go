package prover

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

const chatURL = "https://api.openai.example/v1/chat/completions"

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatReply(content string) func(engine.HTTPRequest) (*engine.HTTPResponse, error) {
	return func(req engine.HTTPRequest) (*engine.HTTPResponse, error) {
		var in chatRequest
		if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
			return &engine.HTTPResponse{StatusCode: http.StatusBadRequest, Body: err.Error()}, nil
		}
		body, _ := json.Marshal(map[string]interface{}{
			"model": in.Model,
			"choices": []interface{}{
				map[string]interface{}{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
		return &engine.HTTPResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
	}
}

func configureAPI(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.UpdateAPIURL(ctx, ownerAcct, chatURL))
	require.NoError(t, f.svc.UpdateAPIKey(ctx, ownerAcct, "sk-test"))
}

func TestAskGPT_AttestsAnswer(t *testing.T) {
	f := newFixture(t, policy.Public{})
	configureAPI(t, f)
	f.host.reply = chatReply("asdf is a keyboard row")

	out, err := f.svc.AskGPT(context.Background(), "some-model", "What is asdf?")
	require.NoError(t, err)
	assert.True(t, verify(t, out))

	payload := decodePayload(t, out)
	assert.Equal(t, "asdf is a keyboard row", payload.Output)
	assert.Equal(t, crypto.HashCode([]byte(askScript)), payload.JsCodeHash)
	assert.Equal(t, f.svc.AskScriptHash(), payload.JsCodeHash)
	assert.Equal(t, engineID, payload.JsEngineCodeHash)
	assert.Equal(t, f.chain.Height(), payload.BlockNumber)

	require.Len(t, f.host.requests, 1)
	req := f.host.requests[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, chatURL, req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers["Authorization"])

	var sent chatRequest
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "some-model", sent.Model)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "What is asdf?", sent.Messages[0].Content)
}

func TestAskGPT_ModelShortcuts(t *testing.T) {
	f := newFixture(t, policy.Public{})
	configureAPI(t, f)
	f.host.reply = chatReply("ok")
	ctx := context.Background()

	_, err := f.svc.AskGPT4(ctx, "q")
	require.NoError(t, err)
	_, err = f.svc.AskGPT35(ctx, "q")
	require.NoError(t, err)

	models := make([]string, 0, 2)
	for _, req := range f.host.requests {
		var sent chatRequest
		require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
		models = append(models, sent.Model)
	}
	assert.Equal(t, []string{ModelGPT4, ModelGPT35}, models)
}

func TestAskGPT_IgnoresAccessPolicy(t *testing.T) {
	f := newFixture(t, policy.Whitelist{Secret: "shared"})
	configureAPI(t, f)
	f.host.reply = chatReply("allowed")

	_, err := f.svc.RunJS(context.Background(), `"user code"`, nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	out, err := f.svc.AskGPT35(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "allowed", decodePayload(t, out).Output)
	for _, args := range f.interp.calls {
		assert.NotContains(t, args, "shared")
	}
}

func TestAskGPT_RequiresAPIURL(t *testing.T) {
	f := newFixture(t, policy.Public{})

	_, err := f.svc.AskGPT35(context.Background(), "q")
	assert.ErrorIs(t, err, ErrBadConfig)
	assert.Equal(t, 0, f.interp.count())
	assert.Empty(t, f.host.requests)
}

func TestAskGPT_Failures(t *testing.T) {
	cases := []struct {
		name  string
		reply func(engine.HTTPRequest) (*engine.HTTPResponse, error)
		want  string
	}{
		{"transport", nil, "no network in tests"},
		{"status", func(engine.HTTPRequest) (*engine.HTTPResponse, error) {
			return &engine.HTTPResponse{StatusCode: http.StatusUnauthorized, Body: "bad key"}, nil
		}, "status 401"},
		{"no choices", func(engine.HTTPRequest) (*engine.HTTPResponse, error) {
			return &engine.HTTPResponse{StatusCode: http.StatusOK, Body: `{"choices":[]}`}, nil
		}, "no choices"},
		{"not json", func(engine.HTTPRequest) (*engine.HTTPResponse, error) {
			return &engine.HTTPResponse{StatusCode: http.StatusOK, Body: `<html>`}, nil
		}, "SyntaxError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, policy.Public{})
			configureAPI(t, f)
			f.host.reply = tc.reply

			out, err := f.svc.AskGPT35(context.Background(), "q")
			assert.Nil(t, out)
			var jsErr *JsError
			require.ErrorAs(t, err, &jsErr)
			assert.Contains(t, jsErr.Detail, tc.want)
		})
	}
}

func TestAPIEndpointAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.Public{})
	configureAPI(t, f)

	forOwner, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, chatURL, forOwner.API.URL)
	assert.Equal(t, "sk-test", forOwner.API.Key)

	for _, caller := range []crypto.AccountID{strangerID, {}} {
		cfg, err := f.svc.GetConfig(caller)
		require.NoError(t, err)
		assert.Equal(t, chatURL, cfg.API.URL)
		assert.Empty(t, cfg.API.Key)
	}

	for _, bad := range []string{"", "ftp://x.example", "/relative", "https://"} {
		assert.ErrorIs(t, f.svc.UpdateAPIURL(ctx, ownerAcct, bad), ErrBadConfig, bad)
	}

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, chatURL, snap.API.URL)
	assert.Equal(t, "sk-test", snap.API.Key)

	for h := uint32(1); h <= f.chain.Height(); h++ {
		e, err := f.chain.Get(h)
		require.NoError(t, err)
		for k, v := range e.Data {
			assert.NotContains(t, v, "sk-test", "field %s", k)
		}
	}
}

package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/api"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestWriteError_ProblemShape(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")
	r := httptest.NewRequest(http.MethodPost, "/v1/run", nil)

	api.WriteError(w, r, http.StatusForbidden, api.CodeUnauthorized, "not yours")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "Forbidden", p.Title)
	assert.Equal(t, api.CodeUnauthorized, p.Code)
	assert.Equal(t, "urn:gpt-prover:problem:unauthorized", p.Type)
	assert.Equal(t, "not yours", p.Detail)
	assert.Equal(t, "/v1/run", p.Instance)
	assert.Equal(t, "req-1", p.TraceID)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, nil, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.NotContains(t, p.Detail, "10.0.0.1")
	assert.Equal(t, api.CodeInternal, p.Code)
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, nil, 30)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteUnauthenticated_DefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthenticated(w, nil, "")
	p := decodeProblem(t, w)
	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Equal(t, "Authentication required", p.Detail)
}

type runBody struct {
	Code   string   `json:"code"`
	Args   []string `json:"args"`
	Secret *string  `json:"secret"`
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"code":"\"hi\"","args":["a"]}`, 0},
		{"explicit empty secret", `{"code":"1","secret":""}`, 0},
		{"missing code", `{"args":[]}`, http.StatusBadRequest},
		{"unknown field", `{"code":"1","extra":true}`, http.StatusBadRequest},
		{"non-string arg", `{"code":"1","args":[1]}`, http.StatusBadRequest},
		{"both secrets", `{"code":"1","secret":"a","sealed_secret":"0xab"}`, http.StatusBadRequest},
		{"not json", `{code`, http.StatusBadRequest},
		{"surrounding whitespace", "\n  {\"code\":\"1\",\"args\":[\"a\",\"b\"]}  \n", 0},
		{"trailing data", `{"code":"1"} {"code":"2"}`, http.StatusBadRequest},
		{"json null", `null`, http.StatusBadRequest},
		{"too large", `{"code":"` + strings.Repeat("x", api.MaxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/run", strings.NewReader(tc.body))

			var got runBody
			err := api.DecodeJSON(w, r, "run", &got)
			if tc.status == 0 {
				require.NoError(t, err)
				return
			}
			var p *api.ProblemDetail
			require.ErrorAs(t, err, &p)
			assert.Equal(t, tc.status, p.Status)
			assert.Equal(t, api.CodeInvalidRequest, p.Code)
		})
	}
}

func TestDecodeJSON_KeepsExplicitEmptySecret(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/run", strings.NewReader(`{"code":"1","secret":""}`))
	var got runBody
	require.NoError(t, api.DecodeJSON(w, r, "run", &got))
	require.NotNil(t, got.Secret)
	assert.Equal(t, "", *got.Secret)
}

func TestRequestSchemas_Compile(t *testing.T) {
	for _, name := range []string{"run", "run_url", "transfer_ownership", "update_config", "update_secret", "allow_code_hash", "set_secret", "ask", "ask_prompt", "update_api_url", "update_api_key"} {
		_, err := api.RequestSchema(name)
		assert.NoError(t, err, name)
	}
	_, err := api.RequestSchema("nope")
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := api.NewGlobalRateLimiter(0.001, 1)
	defer rl.Close()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	do := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/v1/pubkey", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5678"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234"), "budgets are per IP")
}

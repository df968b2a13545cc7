package server

import (
	"errors"
	"net/http"

	"github.com/kvinwang/gpt-prover/pkg/api"
	"github.com/kvinwang/gpt-prover/pkg/auth"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/prover"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.HealthResponse{
		Status:      "ok",
		Address:     s.host.Address(),
		CodeHash:    s.host.CodeHash(),
		BlockHeight: s.host.BlockHeight(),
	})
}

func (s *Server) handlePubKey(w http.ResponseWriter, r *http.Request) {
	pub, err := s.svc.PubKey()
	if err != nil {
		api.WriteInternal(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.PubKeyResponse{PubKey: pub})
}

func (s *Server) handleSealKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.svc.SealKey()
	if err != nil {
		api.WriteInternal(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SealKeyResponse{SealKey: key})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.GetConfig(auth.Caller(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.ConfigResponse{
		Owner:  cfg.Owner,
		Policy: policy.Document{Policy: cfg.Policy},
		API:    api.APIConfig{URL: cfg.API.URL, Key: cfg.API.Key},
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := api.DecodeJSON(w, r, "run", &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	secret := req.Secret
	if len(req.SealedSecret) > 0 {
		opened, err := s.svc.OpenSecret(req.SealedSecret)
		if err != nil {
			api.WriteBadRequest(w, r, "sealed_secret cannot be opened by this instance")
			return
		}
		secret = &opened
	}

	out, err := s.svc.RunJS(r.Context(), req.Code, nonNil(req.Args), secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunURL(w http.ResponseWriter, r *http.Request) {
	var req api.RunURLRequest
	if err := api.DecodeJSON(w, r, "run_url", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.RunJSFromURL(r.Context(), req.URL, nonNil(req.Args))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req api.AskRequest
	if err := api.DecodeJSON(w, r, "ask", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAsk(w, r, req.Model, req.Prompt)
}

func (s *Server) handleAskModel(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.AskRequest
		if err := api.DecodeJSON(w, r, "ask_prompt", &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.finishAsk(w, r, model, req.Prompt)
	}
}

func (s *Server) finishAsk(w http.ResponseWriter, r *http.Request, model, prompt string) {
	out, err := s.svc.AskGPT(r.Context(), model, prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req api.TransferOwnershipRequest
	if err := api.DecodeJSON(w, r, "transfer_ownership", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.TransferOwnership(r.Context(), auth.Caller(r.Context()), req.NewOwner))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateConfigRequest
	if err := api.DecodeJSON(w, r, "update_config", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := policy.Unmarshal(req.Policy)
	if err != nil {
		api.WriteBadRequest(w, r, err.Error())
		return
	}
	s.finishAdmin(w, r, s.svc.UpdateConfig(r.Context(), auth.Caller(r.Context()), p))
}

func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSecretRequest
	if err := api.DecodeJSON(w, r, "update_secret", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.UpdateSecret(r.Context(), auth.Caller(r.Context()), req.Secret))
}

func (s *Server) handleAllowCodeHash(w http.ResponseWriter, r *http.Request) {
	var req api.AllowCodeHashRequest
	if err := api.DecodeJSON(w, r, "allow_code_hash", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.AllowCodeHash(r.Context(), auth.Caller(r.Context()), req.CodeHash))
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var req api.SetSecretRequest
	if err := api.DecodeJSON(w, r, "set_secret", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.SetSecret(r.Context(), auth.Caller(r.Context()), req.CodeHash, req.Secret))
}

func (s *Server) handleUpdateAPIURL(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateAPIURLRequest
	if err := api.DecodeJSON(w, r, "update_api_url", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.UpdateAPIURL(r.Context(), auth.Caller(r.Context()), req.URL))
}

func (s *Server) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateAPIKeyRequest
	if err := api.DecodeJSON(w, r, "update_api_key", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finishAdmin(w, r, s.svc.UpdateAPIKey(r.Context(), auth.Caller(r.Context()), req.Key))
}

func (s *Server) finishAdmin(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps service errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var problem *api.ProblemDetail
	var jsErr *prover.JsError
	switch {
	case errors.As(err, &problem):
		api.WriteProblem(w, r, problem)
	case errors.Is(err, prover.ErrUnauthorized):
		api.WriteError(w, r, http.StatusForbidden, api.CodeUnauthorized, err.Error())
	case errors.Is(err, prover.ErrBadConfig):
		api.WriteError(w, r, http.StatusConflict, api.CodeBadConfig, err.Error())
	case errors.As(err, &jsErr):
		api.WriteError(w, r, http.StatusUnprocessableEntity, api.CodeJSError, jsErr.Detail)
	case errors.Is(err, prover.ErrFetch):
		api.WriteError(w, r, http.StatusBadGateway, api.CodeFetchFailed, err.Error())
	case errors.Is(err, prover.ErrInvalidText):
		api.WriteError(w, r, http.StatusUnprocessableEntity, api.CodeInvalidText, err.Error())
	case errors.Is(err, prover.ErrEngineUnavailable):
		s.logger.ErrorContext(r.Context(), "engine unavailable", "error", err)
		api.WriteError(w, r, http.StatusServiceUnavailable, api.CodeEngineUnavailable, "script engine unavailable")
	default:
		api.WriteInternal(w, r, err)
	}
}

func nonNil(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

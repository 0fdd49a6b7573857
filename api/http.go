// Package api is the thin HTTP adapter over the escrow core. It translates
// requests into core operations and core error kinds into status codes; no
// lifecycle decision is made here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"escrowflow/auth"
	"escrowflow/escrow"
)

type Server struct {
	deals  *escrow.Service
	tokens *auth.Service
}

func NewServer(deals *escrow.Service, tokens *auth.Service) *Server {
	return &Server{deals: deals, tokens: tokens}
}

// Handler builds the route table. Deal refs in paths may be ids or
// originating references; the core resolves them.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/auth/token", s.handleIssueToken)
	mux.HandleFunc("POST /v1/deals", s.withActor(s.handleOpen))
	mux.HandleFunc("GET /v1/deals", s.withActor(s.handleList))
	mux.HandleFunc("GET /v1/deals/{ref}", s.withActor(s.handleGet))
	mux.HandleFunc("POST /v1/deals/{ref}/proof", s.withActor(s.handleProof))
	mux.HandleFunc("POST /v1/deals/{ref}/decision", s.withActor(s.handleDecide))
	mux.HandleFunc("POST /v1/deals/{ref}/close", s.withActor(s.handleClose))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	token, err := s.tokens.IssueToken(req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid arbiter credentials")
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// withActor authenticates the bearer token and passes the verified actor on.
func (s *Server) withActor(next func(http.ResponseWriter, *http.Request, escrow.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		claims, err := s.tokens.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return
		}
		next(w, r, escrow.Actor{Identity: claims.Identity, Handle: claims.Handle})
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	var body struct {
		Payer     string `json:"payer"`
		Payee     string `json:"payee"`
		Amount    string `json:"amount"`
		Note      string `json:"note"`
		Reference string `json:"reference"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	deal, err := s.deals.Open(r.Context(), actor, escrow.OpenParams{
		Payer:     body.Payer,
		Payee:     body.Payee,
		Amount:    body.Amount,
		Note:      body.Note,
		Reference: body.Reference,
	})
	if err != nil {
		writeDealError(w, err, deal)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deal": dealView(deal)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	deals, err := s.deals.ListFor(r.Context(), actor)
	if err != nil {
		writeDealError(w, err, escrow.Deal{})
		return
	}
	views := make([]map[string]any, 0, len(deals))
	for _, d := range deals {
		views = append(views, dealView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": views})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	ref := r.PathValue("ref")
	deal, err := s.deals.Get(r.Context(), ref)
	if errors.Is(err, escrow.ErrNotFound) {
		deal, err = s.deals.ResolveByReference(r.Context(), ref)
	}
	if err != nil {
		writeDealError(w, err, escrow.Deal{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal": dealView(deal)})
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	var body struct {
		Proof string `json:"proof"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	deal, err := s.deals.SubmitProof(r.Context(), actor, r.PathValue("ref"), body.Proof)
	if err != nil {
		writeDealError(w, err, deal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal": dealView(deal)})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	var body struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	deal, err := s.deals.Decide(r.Context(), actor, r.PathValue("ref"), escrow.Outcome(body.Outcome), body.Reason)
	if err != nil {
		writeDealError(w, err, deal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal": dealView(deal)})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, actor escrow.Actor) {
	deal, err := s.deals.Close(r.Context(), actor, r.PathValue("ref"))
	if err != nil {
		writeDealError(w, err, deal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal": dealView(deal)})
}

// writeDealError maps core error kinds onto HTTP statuses. For idempotent
// rejections the untouched deal is included so callers see the recorded
// outcome.
func writeDealError(w http.ResponseWriter, err error, deal escrow.Deal) {
	var payload map[string]any
	if deal.ID != "" {
		payload = map[string]any{"deal": dealView(deal)}
	}

	switch {
	case errors.Is(err, escrow.ErrValidation):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), payload)
	case errors.Is(err, escrow.ErrNotFound):
		writeErrorDetails(w, http.StatusNotFound, "NOT_FOUND", "deal not found", nil)
	case errors.Is(err, escrow.ErrUnauthorized):
		writeErrorDetails(w, http.StatusForbidden, "FORBIDDEN", "action not allowed for this actor", payload)
	case errors.Is(err, escrow.ErrAlreadySettled):
		writeErrorDetails(w, http.StatusConflict, "ALREADY_SETTLED", "deal is already settled", payload)
	case errors.Is(err, escrow.ErrAlreadyClosed):
		writeErrorDetails(w, http.StatusConflict, "ALREADY_CLOSED", "deal is already closed", payload)
	case errors.Is(err, escrow.ErrInvalidTransition):
		writeErrorDetails(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), payload)
	case errors.Is(err, escrow.ErrReferenceTaken):
		writeErrorDetails(w, http.StatusConflict, "REFERENCE_TAKEN", "originating reference already bound", nil)
	default:
		writeErrorDetails(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error", nil)
	}
}

func dealView(d escrow.Deal) map[string]any {
	view := map[string]any{
		"id":         d.ID,
		"payer":      d.Payer,
		"payee":      d.Payee,
		"amount":     d.Amount,
		"note":       d.Note,
		"creator":    d.Creator,
		"status":     d.Status,
		"proof":      d.Proof,
		"created_at": d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.Reference != "" {
		view["reference"] = d.Reference
	}
	if d.ClosedAt != nil {
		view["closed_at"] = d.ClosedAt.UTC().Format(time.RFC3339)
		view["closed_by"] = d.ClosedBy
	}
	if d.Settlement != nil {
		view["settlement"] = map[string]any{
			"decided_by": d.Settlement.DecidedBy,
			"decided_at": d.Settlement.DecidedAt.UTC().Format(time.RFC3339),
			"outcome":    d.Settlement.Outcome,
			"reason":     d.Settlement.Reason,
		}
	}
	return view
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	body := map[string]any{"error": code, "message": message}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}

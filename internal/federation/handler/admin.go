package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agora/internal/admintoken"
	"agora/internal/federation/policy"
	"agora/internal/platform/middleware"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
	"agora/pkg/platform/httputil"
)

const adminSessionTTL = time.Hour

// AdminHandler exposes the trust-policy management API. Every mutation
// invalidates the policy cache so the next inbound activity sees the new
// lists.
type AdminHandler struct {
	store  storage.TrustPolicyStore
	cache  *policy.Cache
	tokens *admintoken.Service
	logger *slog.Logger
}

// NewAdmin constructs the admin handler.
func NewAdmin(store storage.TrustPolicyStore, cache *policy.Cache, tokens *admintoken.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  store,
		cache:  cache,
		tokens: tokens,
		logger: logger,
	}
}

// Register mounts the admin endpoints on the router.
func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/api/federation/login", h.HandleLogin)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.tokens, h.logger))
		r.Get("/api/federation/policy", h.HandleGetPolicy)
		r.Put("/api/federation/policy", h.HandlePutPolicy)
	})
}

type loginRequest struct {
	Credential string `json:"credential"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// HandleLogin exchanges the shared admin credential for a session token.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[loginRequest](w, r)
	if !ok {
		return
	}
	token, err := h.tokens.Login(req.Credential, adminSessionTTL)
	if err != nil {
		h.logger.WarnContext(r.Context(), "admin login rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int(adminSessionTTL.Seconds()),
	})
}

type policyResponse struct {
	BlockedDomains []string `json:"blocked_domains"`
	AllowedDomains []string `json:"allowed_domains"`
}

// HandleGetPolicy returns the current trust lists.
func (h *AdminHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	blocked, allowed, err := h.store.TrustLists(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "load trust lists"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policyResponse{
		BlockedDomains: emptyNotNil(blocked),
		AllowedDomains: emptyNotNil(allowed),
	})
}

// HandlePutPolicy replaces both trust lists and invalidates the cached
// snapshot.
func (h *AdminHandler) HandlePutPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[policyResponse](w, r)
	if !ok {
		return
	}
	if err := h.store.SetBlockedDomains(ctx, req.BlockedDomains); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "store blocked domains"))
		return
	}
	if err := h.store.SetAllowedDomains(ctx, req.AllowedDomains); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "store allowed domains"))
		return
	}
	h.cache.Invalidate()

	h.logger.InfoContext(ctx, "trust policy updated",
		"admin", middleware.AdminSubject(ctx),
		"blocked", len(req.BlockedDomains),
		"allowed", len(req.AllowedDomains),
	)
	httputil.WriteJSON(w, http.StatusOK, policyResponse{
		BlockedDomains: emptyNotNil(req.BlockedDomains),
		AllowedDomains: emptyNotNil(req.AllowedDomains),
	})
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

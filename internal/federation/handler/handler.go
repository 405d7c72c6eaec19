// Package handler exposes the federation HTTP surface: the inbox endpoints
// remote instances POST activities to, the actor and object documents they
// GET back, and the node metadata endpoint.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"agora/internal/federation/apub"
	"agora/internal/federation/resolver"
	"agora/internal/federation/signing"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
	"agora/pkg/platform/httputil"
)

const (
	activityContentType = "application/activity+json"
	maxInboxBody        = 1 << 20
)

// Dispatcher routes a verified inbound activity to a terminal outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, env apub.Envelope, signerActorID string) error
}

// ActorResolver resolves the signing actor named in a request signature.
type ActorResolver interface {
	ResolveActor(ctx context.Context, rawURL string) (apub.Actor, error)
}

// Handler wires the federation endpoints to the engine.
type Handler struct {
	dispatcher Dispatcher
	resolver   ActorResolver
	store      storage.Store
	verifier   signing.Verifier
	logger     *slog.Logger

	protocol string
	hostname string
	software string
	version  string
}

// New constructs a federation handler with its dependencies.
func New(
	dispatcher Dispatcher,
	res ActorResolver,
	store storage.Store,
	verifier signing.Verifier,
	protocol, hostname, software, version string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		resolver:   res,
		store:      store,
		verifier:   verifier,
		protocol:   protocol,
		hostname:   hostname,
		software:   software,
		version:    version,
		logger:     logger,
	}
}

// Register mounts the federation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/inbox", h.HandleInbox)
	r.Post("/u/{name}/inbox", h.HandleInbox)
	r.Post("/c/{name}/inbox", h.HandleInbox)
	r.Get("/u/{name}", h.HandlePerson)
	r.Get("/c/{name}", h.HandleCommunity)
	r.Get("/post/{id}", h.HandlePost)
	r.Get("/comment/{id}", h.HandleComment)
	r.Get("/nodeinfo/2.0", h.HandleNodeInfo)
}

// HandleInbox accepts one activity per request. The personal and community
// inboxes share the shared-inbox pipeline: routing derives from the
// activity's addressing, not from the URL it arrived on.
func (h *Handler) HandleInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboxBody))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "read activity body"))
		return
	}
	var env apub.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed activity"))
		return
	}

	signer, err := h.verifySignature(ctx, r, body)
	if err != nil {
		h.logger.WarnContext(ctx, "inbox signature rejected",
			"activity_id", env.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.recordInstance(ctx, r, signer.ID)

	if err := h.dispatcher.Dispatch(ctx, env, signer.ID); err != nil {
		// Unknown activity types are acknowledged so well-behaved peers do
		// not retry them forever.
		if dErrors.HasCode(err, dErrors.CodeUnhandledActivity) {
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "activity accepted",
		"activity_id", env.ID,
		"type", env.Type,
		"actor", env.Actor,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.WriteHeader(http.StatusOK)
}

// verifySignature resolves the key owner named in the Signature header and
// checks the request against the actor's advertised public key.
func (h *Handler) verifySignature(ctx context.Context, r *http.Request, body []byte) (apub.Actor, error) {
	keyID, err := signing.KeyID(r)
	if err != nil {
		return apub.Actor{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "request is unsigned")
	}
	ownerURL, _, _ := strings.Cut(keyID, "#")

	actor, err := h.resolver.ResolveActor(ctx, ownerURL)
	if err != nil {
		return apub.Actor{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "resolve signing actor")
	}
	if err := h.verifier.Verify(r, body, actor.PublicKey.PublicKeyPem); err != nil {
		return apub.Actor{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "verify request signature")
	}
	return actor, nil
}

// recordInstance keeps best-effort software metadata about the peer, parsed
// from its User-Agent.
func (h *Handler) recordInstance(ctx context.Context, r *http.Request, actorID string) {
	domain := hostOf(actorID)
	if domain == "" {
		return
	}
	ua := useragent.New(r.UserAgent())
	software, version := ua.Browser()
	err := h.store.UpsertInstance(ctx, storage.Instance{
		Domain:    domain,
		Software:  software,
		Version:   version,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "record peer instance failed",
			"domain", domain,
			"error", err,
		)
	}
}

// HandlePerson serves GET /u/{name}.
func (h *Handler) HandlePerson(w http.ResponseWriter, r *http.Request) {
	apID := fmt.Sprintf("%s://%s/u/%s", h.protocol, h.hostname, chi.URLParam(r, "name"))
	p, err := h.store.PersonByApID(r.Context(), apID)
	if err != nil {
		h.writeLookupError(w, apID, err)
		return
	}
	if p.Deleted {
		writeActivity(w, http.StatusGone, resolver.RenderTombstone(apID, apub.KindPerson))
		return
	}
	writeActivity(w, http.StatusOK, resolver.RenderPerson(p))
}

// HandleCommunity serves GET /c/{name}.
func (h *Handler) HandleCommunity(w http.ResponseWriter, r *http.Request) {
	apID := fmt.Sprintf("%s://%s/c/%s", h.protocol, h.hostname, chi.URLParam(r, "name"))
	c, err := h.store.CommunityByApID(r.Context(), apID)
	if err != nil {
		h.writeLookupError(w, apID, err)
		return
	}
	if c.Deleted {
		writeActivity(w, http.StatusGone, resolver.RenderTombstone(apID, apub.KindGroup))
		return
	}
	writeActivity(w, http.StatusOK, resolver.RenderCommunity(c))
}

// HandlePost serves GET /post/{id}.
func (h *Handler) HandlePost(w http.ResponseWriter, r *http.Request) {
	apID := fmt.Sprintf("%s://%s/post/%s", h.protocol, h.hostname, chi.URLParam(r, "id"))
	p, err := h.store.PostByApID(r.Context(), apID)
	if err != nil {
		h.writeLookupError(w, apID, err)
		return
	}
	if p.Deleted {
		writeActivity(w, http.StatusGone, resolver.RenderTombstone(apID, apub.KindPage))
		return
	}
	writeActivity(w, http.StatusOK, resolver.RenderPost(p))
}

// HandleComment serves GET /comment/{id}.
func (h *Handler) HandleComment(w http.ResponseWriter, r *http.Request) {
	apID := fmt.Sprintf("%s://%s/comment/%s", h.protocol, h.hostname, chi.URLParam(r, "id"))
	c, err := h.store.CommentByApID(r.Context(), apID)
	if err != nil {
		h.writeLookupError(w, apID, err)
		return
	}
	if c.Deleted {
		writeActivity(w, http.StatusGone, resolver.RenderTombstone(apID, apub.KindNote))
		return
	}
	writeActivity(w, http.StatusOK, resolver.RenderComment(c))
}

// HandleNodeInfo serves GET /nodeinfo/2.0 so peers can identify this
// server's software.
func (h *Handler) HandleNodeInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"version": "2.0",
		"software": map[string]string{
			"name":    h.software,
			"version": h.version,
		},
		"protocols":         []string{"activitypub"},
		"openRegistrations": false,
	})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, apID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "object %s not found", apID))
		return
	}
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "load object"))
}

func writeActivity(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", activityContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Package resolver dereferences URLs to typed federation objects. Local URLs
// are read from storage, everything else goes through a TTL'd in-memory cache
// and, on miss, a budgeted network fetch. The per-resolution fetch budget
// bounds amplification from adversarial or misconfigured remote graphs;
// reference cycles are handled by the flat URL-keyed cache, never by
// recursive ownership.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agora/internal/federation/apub"
	"agora/internal/federation/policy"
	"agora/internal/platform/metrics"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
	"agora/pkg/platform/sentinel"
)

const (
	// maxBodyBytes caps a fetched object document.
	maxBodyBytes = 1 << 20
	// actorRefreshInterval bounds how stale a cached mutable (actor-like)
	// object may get before a refetch.
	actorRefreshInterval = 24 * time.Hour
	// enrichmentTimeout bounds detached background enrichment.
	enrichmentTimeout = 2 * time.Minute
	// enrichmentMaxItems caps how many outbox items a new community's
	// backfill touches.
	enrichmentMaxItems = 20
)

// Object is a resolved, type-checked object. Raw holds the canonical JSON
// document as fetched or as rendered from local storage.
type Object struct {
	URL       string
	Kind      apub.Kind
	Raw       json.RawMessage
	FetchedAt time.Time
}

// Decode unmarshals the raw document into v.
func (o Object) Decode(v any) error {
	return json.Unmarshal(o.Raw, v)
}

// Doer issues HTTP requests; satisfied by *http.Client and test fakes.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Resolver resolves URLs to objects and commits resolved remote actors to
// the storage collaborator.
type Resolver struct {
	store     storage.Store
	validator *policy.Validator
	client    Doer
	localHost string
	fetchLimit int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time

	mu    sync.RWMutex
	cache map[string]Object
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithFetchLimit overrides the per-resolution fetch ceiling.
func WithFetchLimit(limit int) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.fetchLimit = limit
		}
	}
}

// WithMetrics records cache and fetch counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs a Resolver. The default fetch ceiling needs to be high
// enough to resolve a new community together with its moderators.
func New(store storage.Store, validator *policy.Validator, localHost string, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		validator:  validator,
		client:     &http.Client{Timeout: 30 * time.Second},
		localHost:  localHost,
		fetchLimit: 100,
		logger:     logger,
		tracer:     otel.Tracer("agora/federation/resolver"),
		clock:      time.Now,
		cache:      make(map[string]Object),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// budget is the fetch allowance of a single top-level resolution. It is
// never shared between resolutions, so concurrent callers cannot starve
// each other.
type budget struct {
	remaining int
}

func (b *budget) spend() error {
	if b.remaining <= 0 {
		return dErrors.New(dErrors.CodeFetchLimitExceeded, "fetch limit exceeded")
	}
	b.remaining--
	return nil
}

// Resolve dereferences rawURL expecting the given kind. An empty kind accepts
// any object. The call carries a fresh fetch budget.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, kind apub.Kind) (Object, error) {
	b := &budget{remaining: r.fetchLimit}
	return r.resolve(ctx, b, rawURL, kind)
}

// ResolveActor dereferences rawURL and decodes it as a Person or Group
// document.
func (r *Resolver) ResolveActor(ctx context.Context, rawURL string) (apub.Actor, error) {
	obj, err := r.Resolve(ctx, rawURL, "")
	if err != nil {
		return apub.Actor{}, err
	}
	var actor apub.Actor
	if err := obj.Decode(&actor); err != nil {
		return apub.Actor{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "decode actor document")
	}
	if !actor.Type.IsActor() {
		return apub.Actor{}, dErrors.Newf(dErrors.CodeVerificationFailed, "object %s is %s, not an actor", rawURL, actor.Type)
	}
	return actor, nil
}

func (r *Resolver) resolve(ctx context.Context, b *budget, rawURL string, kind apub.Kind) (Object, error) {
	strict := kind == apub.KindGroup
	if err := r.validator.Validate(ctx, rawURL, strict); err != nil {
		return Object{}, err
	}

	if r.isLocal(rawURL) {
		return r.localObject(ctx, rawURL, kind)
	}

	if obj, ok := r.cached(rawURL, kind); ok {
		if r.metrics != nil {
			r.metrics.ObjectCacheHits.Inc()
		}
		return obj, nil
	}
	if r.metrics != nil {
		r.metrics.ObjectCacheMisses.Inc()
	}

	raw, err := r.fetch(ctx, b, rawURL)
	if err != nil {
		return Object{}, err
	}

	var probe struct {
		ID   string    `json:"id"`
		Type apub.Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Object{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "decode fetched object")
	}
	// Anti-spoofing: the fetched document must claim the URL it was
	// fetched from.
	if probe.ID != rawURL {
		return Object{}, dErrors.Newf(dErrors.CodeVerificationFailed,
			"fetched object declares id %q, requested %q", probe.ID, rawURL)
	}
	if kind != "" && probe.Type != kind {
		return Object{}, dErrors.Newf(dErrors.CodeVerificationFailed,
			"fetched object is %s, expected %s", probe.Type, kind)
	}

	obj := Object{URL: rawURL, Kind: probe.Type, Raw: raw, FetchedAt: r.clock()}

	// Actor documents are committed to storage. Communities first pull in
	// their moderator list within the same budget so a half-resolved
	// community never lands in durable storage.
	switch probe.Type {
	case apub.KindPerson:
		if err := r.commitPerson(ctx, obj); err != nil {
			return Object{}, err
		}
	case apub.KindGroup:
		if err := r.commitCommunity(ctx, b, obj); err != nil {
			return Object{}, err
		}
	}

	r.mu.Lock()
	r.cache[rawURL] = obj
	r.mu.Unlock()
	return obj, nil
}

func (r *Resolver) isLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && strings.EqualFold(u.Hostname(), r.localHost)
}

func (r *Resolver) cached(rawURL string, kind apub.Kind) (Object, bool) {
	r.mu.RLock()
	obj, ok := r.cache[rawURL]
	r.mu.RUnlock()
	if !ok {
		return Object{}, false
	}
	if kind != "" && obj.Kind != kind {
		return Object{}, false
	}
	// Immutable kinds stay cached indefinitely; actor-like kinds refresh
	// periodically.
	if obj.Kind.Mutable() && r.clock().Sub(obj.FetchedAt) > actorRefreshInterval {
		return Object{}, false
	}
	return obj, true
}

func (r *Resolver) fetch(ctx context.Context, b *budget, rawURL string) (json.RawMessage, error) {
	if err := b.spend(); err != nil {
		if r.metrics != nil {
			r.metrics.FetchLimitAborts.Inc()
		}
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "resolver.fetch",
		trace.WithAttributes(attribute.String("object.url", rawURL)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "build fetch request")
	}
	req.Header.Set("Accept", "application/activity+json")

	if r.metrics != nil {
		r.metrics.ObjectFetches.Inc()
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch object")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("object %s: %w", rawURL, sentinel.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.Newf(dErrors.CodeInternal, "fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read object body")
	}
	return body, nil
}

func (r *Resolver) commitPerson(ctx context.Context, obj Object) error {
	var actor apub.Actor
	if err := obj.Decode(&actor); err != nil {
		return dErrors.Wrap(err, dErrors.CodeVerificationFailed, "decode person document")
	}
	return r.store.UpsertPerson(ctx, personFromActor(actor))
}

// commitCommunity resolves the community's moderators within the caller's
// budget, upserts everything, then kicks off detached outbox enrichment.
func (r *Resolver) commitCommunity(ctx context.Context, b *budget, obj Object) error {
	var actor apub.Actor
	if err := obj.Decode(&actor); err != nil {
		return dErrors.Wrap(err, dErrors.CodeVerificationFailed, "decode group document")
	}

	if actor.AttributedTo != "" {
		if err := r.resolveModerators(ctx, b, actor.AttributedTo); err != nil {
			return err
		}
	}

	if err := r.store.UpsertCommunity(ctx, communityFromActor(actor)); err != nil {
		return err
	}

	// Backfilling a newly discovered community's recent posts is
	// best-effort: it must never fail or block the resolution that found
	// the community.
	if actor.Outbox != "" {
		r.enrichDetached(ctx, actor.ID, actor.Outbox)
	}
	return nil
}

func (r *Resolver) resolveModerators(ctx context.Context, b *budget, collectionURL string) error {
	raw, err := r.fetch(ctx, b, collectionURL)
	if err != nil {
		return err
	}
	var coll apub.OrderedCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return dErrors.Wrap(err, dErrors.CodeVerificationFailed, "decode moderator collection")
	}
	for _, modURL := range coll.OrderedItems {
		if r.isLocal(modURL) {
			continue
		}
		if _, err := r.resolve(ctx, b, modURL, apub.KindPerson); err != nil {
			return err
		}
	}
	return nil
}

// enrichDetached prefetches a community's recent outbox items in the
// background. Failures are logged and discarded; the triggering resolution
// never observes them.
func (r *Resolver) enrichDetached(ctx context.Context, communityID, outboxURL string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, enrichmentTimeout)
		defer cancel()

		if err := r.backfillOutbox(ctx, communityID, outboxURL); err != nil {
			r.logger.WarnContext(ctx, "community enrichment failed",
				"community", communityID,
				"outbox", outboxURL,
				"error", err,
			)
		}
	}()
}

func (r *Resolver) backfillOutbox(ctx context.Context, communityID, outboxURL string) error {
	b := &budget{remaining: r.fetchLimit}
	raw, err := r.fetch(ctx, b, outboxURL)
	if err != nil {
		return err
	}
	var coll apub.OrderedCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return fmt.Errorf("decode outbox: %w", err)
	}

	items := coll.OrderedItems
	if len(items) > enrichmentMaxItems {
		items = items[:enrichmentMaxItems]
	}
	for _, itemURL := range items {
		obj, err := r.resolve(ctx, b, itemURL, apub.KindPage)
		if err != nil {
			r.logger.DebugContext(ctx, "outbox item skipped",
				"url", itemURL, "error", err)
			continue
		}
		var page apub.Page
		if err := obj.Decode(&page); err != nil {
			continue
		}
		post := storage.Post{
			ApID:          page.ID,
			CommunityApID: communityID,
			CreatorApID:   page.AttributedTo,
			Title:         page.Name,
			Body:          page.Content,
		}
		if err := r.store.UpsertPost(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

func personFromActor(a apub.Actor) storage.Person {
	p := storage.Person{
		ApID:         a.ID,
		Name:         a.PreferredUsername,
		DisplayName:  a.Name,
		InboxURL:     a.Inbox,
		FollowersURL: a.Followers,
		PublicKeyPem: a.PublicKey.PublicKeyPem,
	}
	if a.Endpoints != nil {
		p.SharedInboxURL = a.Endpoints.SharedInbox
	}
	return p
}

func communityFromActor(a apub.Actor) storage.Community {
	c := storage.Community{
		ApID:          a.ID,
		Name:          a.PreferredUsername,
		Title:         a.Name,
		Summary:       a.Summary,
		InboxURL:      a.Inbox,
		FollowersURL:  a.Followers,
		ModeratorsURL: a.AttributedTo,
		OutboxURL:     a.Outbox,
		PublicKeyPem:  a.PublicKey.PublicKeyPem,
	}
	if a.Endpoints != nil {
		c.SharedInboxURL = a.Endpoints.SharedInbox
	}
	return c
}

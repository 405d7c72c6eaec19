// Package dispatch routes inbound activities to type-keyed handlers. Every
// activity passes the same pipeline: shape checks, trust-policy validation,
// journal dedup, actor resolution, then the handler's verify and apply
// phases. Verify never mutates; apply runs only after verify succeeds.
package dispatch

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"agora/internal/federation/apub"
	"agora/internal/federation/delivery"
	"agora/internal/federation/journal"
	"agora/internal/federation/policy"
	"agora/internal/federation/resolver"
	"agora/internal/notify"
	"agora/internal/platform/metrics"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
)

// ObjectResolver resolves object URLs, committing remote actors to storage
// as a side effect. Satisfied by *resolver.Resolver.
type ObjectResolver interface {
	Resolve(ctx context.Context, rawURL string, kind apub.Kind) (resolver.Object, error)
	ResolveActor(ctx context.Context, rawURL string) (apub.Actor, error)
}

// Sender delivers outbound activities. Satisfied by *delivery.Service.
type Sender interface {
	Send(ctx context.Context, env apub.Envelope, origin delivery.Origin, recipients []apub.Actor) error
}

// Notifier receives an event for every applied activity.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event)
}

// handler is the two-phase contract for one activity kind. verify performs
// every semantic check and loads what apply needs into the state; apply
// performs the mutations and any reactive sends.
type handler struct {
	verify func(ctx context.Context, st *state) error
	apply  func(ctx context.Context, st *state) error
}

// state is per-dispatch scratch space handed from verify to apply.
type state struct {
	env   apub.Envelope
	actor apub.Actor

	// Filled by verify as needed.
	objectURL string
	inner     *apub.Envelope
	note      *apub.Note
	page      *apub.Page
	comment   storage.Comment
	post      storage.Post
	target    localActor
	// deleteKind records which entity a Delete targets.
	deleteKind apub.Kind
}

// Dispatcher applies inbound activities against the storage collaborator.
type Dispatcher struct {
	validator *policy.Validator
	journal   journal.Journal
	resolver  ObjectResolver
	store     storage.Store
	sender    Sender
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics

	protocol string
	hostname string

	handlers map[apub.Kind]handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New wires a Dispatcher and registers the closed activity set.
func New(
	validator *policy.Validator,
	jrnl journal.Journal,
	res ObjectResolver,
	store storage.Store,
	sender Sender,
	notifier Notifier,
	protocol, hostname string,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		validator: validator,
		journal:   jrnl,
		resolver:  res,
		store:     store,
		sender:    sender,
		notifier:  notifier,
		protocol:  protocol,
		hostname:  hostname,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.handlers = map[apub.Kind]handler{
		apub.KindFollow:   {verify: d.verifyFollow, apply: d.applyFollow},
		apub.KindAccept:   {verify: d.verifyAccept, apply: d.applyAccept},
		apub.KindUndo:     {verify: d.verifyUndo, apply: d.applyUndo},
		apub.KindCreate:   {verify: d.verifyCreateOrUpdate, apply: d.applyCreateOrUpdate},
		apub.KindUpdate:   {verify: d.verifyCreateOrUpdate, apply: d.applyCreateOrUpdate},
		apub.KindDelete:   {verify: d.verifyDelete, apply: d.applyDelete},
		apub.KindLike:     {verify: d.verifyVote, apply: d.applyVote},
		apub.KindDislike:  {verify: d.verifyVote, apply: d.applyVote},
		apub.KindAnnounce: {verify: d.verifyAnnounce, apply: d.applyAnnounce},
	}
	return d
}

// Dispatch processes one inbound activity to a terminal outcome. A nil
// return means the activity's effects are durable, either applied now or by
// an earlier dispatch of the same id. signerActorID is the actor proven by
// the transport's signature check; pass "" when the transport has already
// been trusted (local re-dispatch of an embedded activity).
func (d *Dispatcher) Dispatch(ctx context.Context, env apub.Envelope, signerActorID string) error {
	if d.metrics != nil {
		d.metrics.ActivitiesReceived.WithLabelValues(string(env.Type)).Inc()
	}

	if env.ID == "" || env.Actor == "" {
		return d.reject(ctx, env, dErrors.New(dErrors.CodeBadRequest, "activity is missing id or actor"))
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		return d.reject(ctx, env, dErrors.Newf(dErrors.CodeUnhandledActivity, "activity type %q is not handled", env.Type))
	}

	// Activities forged under a foreign id are dropped before any side
	// effect, including the journal entry.
	if hostOf(env.ID) == "" || hostOf(env.ID) != hostOf(env.Actor) {
		return d.reject(ctx, env, dErrors.Newf(dErrors.CodeVerificationFailed,
			"activity id %q and actor %q are on different domains", env.ID, env.Actor))
	}
	if err := d.validator.Validate(ctx, env.ID, false); err != nil {
		return d.reject(ctx, env, err)
	}
	if err := d.validator.Validate(ctx, env.Actor, false); err != nil {
		return d.reject(ctx, env, err)
	}

	outcome, err := d.journal.RecordIfNew(ctx, env.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record activity")
	}
	if outcome == journal.AlreadyExists {
		if d.metrics != nil {
			d.metrics.ActivitiesDuplicate.Inc()
		}
		d.logger.DebugContext(ctx, "duplicate activity skipped", "activity_id", env.ID)
		return nil
	}

	actor, err := d.resolver.ResolveActor(ctx, env.Actor)
	if err != nil {
		return d.reject(ctx, env, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "resolve activity actor"))
	}
	if signerActorID != "" && signerActorID != actor.ID {
		return d.reject(ctx, env, dErrors.Newf(dErrors.CodeVerificationFailed,
			"request signed by %q but activity attributed to %q", signerActorID, actor.ID))
	}

	st := &state{env: env, actor: actor}
	if err := h.verify(ctx, st); err != nil {
		return d.reject(ctx, env, err)
	}
	if err := h.apply(ctx, st); err != nil {
		return d.reject(ctx, env, err)
	}

	if d.metrics != nil {
		d.metrics.ActivitiesApplied.WithLabelValues(string(env.Type)).Inc()
	}
	if d.notifier != nil {
		d.notifier.Notify(ctx, notify.Event{
			Activity:   string(env.Type),
			ActorApID:  actor.ID,
			ObjectApID: st.objectURL,
			At:         time.Now(),
		})
	}
	d.logger.InfoContext(ctx, "activity applied",
		"activity_id", env.ID,
		"type", env.Type,
		"actor", actor.ID,
	)
	return nil
}

// reject classifies and counts a terminal rejection.
func (d *Dispatcher) reject(ctx context.Context, env apub.Envelope, err error) error {
	if d.metrics != nil {
		d.metrics.ActivitiesRejected.WithLabelValues(string(dErrors.CodeOf(err))).Inc()
	}
	d.logger.WarnContext(ctx, "activity rejected",
		"activity_id", env.ID,
		"type", env.Type,
		"error", err,
	)
	return err
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

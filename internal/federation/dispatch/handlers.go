package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"agora/internal/federation/apub"
	"agora/internal/federation/delivery"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
)

// localActor is the subset of a local person or community a handler needs to
// act on its behalf.
type localActor struct {
	apID          string
	kind          apub.Kind
	privateKeyPem string
	followersURL  string
	deleted       bool
}

// localActorByApID loads a local person or community by its id URL.
func (d *Dispatcher) localActorByApID(ctx context.Context, apID string) (localActor, error) {
	if p, err := d.store.PersonByApID(ctx, apID); err == nil {
		return localActor{
			apID:          p.ApID,
			kind:          apub.KindPerson,
			privateKeyPem: p.PrivateKeyPem,
			followersURL:  p.FollowersURL,
			deleted:       p.Deleted,
		}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return localActor{}, err
	}
	c, err := d.store.CommunityByApID(ctx, apID)
	if err != nil {
		return localActor{}, err
	}
	return localActor{
		apID:          c.ApID,
		kind:          apub.KindGroup,
		privateKeyPem: c.PrivateKeyPem,
		followersURL:  c.FollowersURL,
		deleted:       c.Deleted,
	}, nil
}

// embeddedKind probes the type tag of an embedded object without committing
// to a concrete shape.
func embeddedKind(env *apub.Envelope) (apub.Kind, error) {
	var probe struct {
		Type apub.Kind `json:"type"`
	}
	if err := env.DecodeObject(&probe); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "decode activity object")
	}
	if probe.Type == "" {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "activity %s: object has no type", env.ID)
	}
	return probe.Type, nil
}

// Follow: a remote actor subscribes to a local person or community. The edge
// is recorded and an Accept is sent back on behalf of the target.

func (d *Dispatcher) verifyFollow(ctx context.Context, st *state) error {
	targetURL, err := st.env.ObjectURL()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "follow object")
	}
	if hostOf(targetURL) != d.validator.LocalHost() {
		return dErrors.Newf(dErrors.CodeVerificationFailed, "follow target %q is not on this instance", targetURL)
	}
	target, err := d.localActorByApID(ctx, targetURL)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "follow target %q is unknown", targetURL)
		}
		return err
	}
	if target.deleted {
		return dErrors.Newf(dErrors.CodeNotFound, "follow target %q is deleted", targetURL)
	}
	st.objectURL = targetURL
	st.target = target
	return nil
}

func (d *Dispatcher) applyFollow(ctx context.Context, st *state) error {
	err := d.store.UpsertFollow(ctx, storage.Follow{
		FollowerApID: st.actor.ID,
		TargetApID:   st.target.apID,
		Pending:      false,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record follow")
	}

	// Echo the original follow inside the Accept so the follower can match
	// it to its pending edge.
	raw, err := json.Marshal(st.env)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "embed follow in accept")
	}
	accept := apub.Envelope{
		ID:     apub.NewActivityID(apub.KindAccept, d.protocol, d.hostname),
		Type:   apub.KindAccept,
		Actor:  st.target.apID,
		Object: raw,
		To:     []string{st.actor.ID},
	}
	origin := delivery.Origin{
		ActorID:       st.target.apID,
		KeyID:         st.target.apID + "#main-key",
		PrivateKeyPem: st.target.privateKeyPem,
		FollowersURL:  st.target.followersURL,
	}
	if err := d.sender.Send(ctx, accept, origin, []apub.Actor{st.actor}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "send accept")
	}
	return nil
}

// Accept: a remote target confirms a follow this instance previously sent.

func (d *Dispatcher) verifyAccept(ctx context.Context, st *state) error {
	inner, err := st.env.ObjectEnvelope()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "accept object")
	}
	if inner.Type != apub.KindFollow {
		return dErrors.Newf(dErrors.CodeVerificationFailed, "accept wraps %q, want Follow", inner.Type)
	}
	followTarget, err := inner.ObjectURL()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "accepted follow object")
	}
	if followTarget != st.env.Actor {
		return dErrors.Newf(dErrors.CodeVerificationFailed,
			"accept actor %q is not the follow target %q", st.env.Actor, followTarget)
	}
	// Only follows this instance actually sent may be accepted.
	if _, err := d.store.FollowByIDs(ctx, inner.Actor, st.env.Actor); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeVerificationFailed,
				"no follow from %q to %q was sent", inner.Actor, st.env.Actor)
		}
		return err
	}
	st.inner = inner
	st.objectURL = inner.ID
	return nil
}

func (d *Dispatcher) applyAccept(ctx context.Context, st *state) error {
	if err := d.store.AcceptFollow(ctx, st.inner.Actor, st.env.Actor); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "accept follow")
	}
	return nil
}

// Undo: the actor retracts its own earlier Follow, Like or Dislike. Undoing
// something already gone is a success.

func (d *Dispatcher) verifyUndo(ctx context.Context, st *state) error {
	inner, err := st.env.ObjectEnvelope()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "undo object")
	}
	if inner.Actor != st.env.Actor {
		return dErrors.Newf(dErrors.CodeVerificationFailed,
			"undo actor %q may not retract an activity of %q", st.env.Actor, inner.Actor)
	}
	switch inner.Type {
	case apub.KindFollow, apub.KindLike, apub.KindDislike:
	default:
		return dErrors.Newf(dErrors.CodeUnhandledActivity, "undo of %q is not handled", inner.Type)
	}
	targetURL, err := inner.ObjectURL()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "undone activity object")
	}
	st.inner = inner
	st.objectURL = targetURL
	return nil
}

func (d *Dispatcher) applyUndo(ctx context.Context, st *state) error {
	var err error
	switch st.inner.Type {
	case apub.KindFollow:
		err = d.store.DeleteFollow(ctx, st.env.Actor, st.objectURL)
	case apub.KindLike, apub.KindDislike:
		err = d.store.DeleteVote(ctx, st.env.Actor, st.objectURL)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "undo activity")
	}
	return nil
}

// Create / Update: a remote actor publishes or edits a Note (comment) or
// Page (post). Updates require the editor to be the original creator.

func (d *Dispatcher) verifyCreateOrUpdate(ctx context.Context, st *state) error {
	kind, err := embeddedKind(&st.env)
	if err != nil {
		return err
	}
	switch kind {
	case apub.KindNote:
		return d.verifyNote(ctx, st)
	case apub.KindPage:
		return d.verifyPage(ctx, st)
	default:
		return dErrors.Newf(dErrors.CodeUnhandledActivity, "%s of object type %q is not handled", st.env.Type, kind)
	}
}

func (d *Dispatcher) verifyNote(ctx context.Context, st *state) error {
	var note apub.Note
	if err := st.env.DecodeObject(&note); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "decode note")
	}
	if note.ID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "note has no id")
	}
	if err := d.verifyAttribution(ctx, st, note.ID, note.AttributedTo); err != nil {
		return err
	}

	comment := storage.Comment{
		ApID:        note.ID,
		CreatorApID: st.env.Actor,
		Content:     note.Content,
	}
	// The parent must already be known; threads are ingested top-down.
	if post, err := d.store.PostByApID(ctx, note.InReplyTo); err == nil {
		comment.PostApID = post.ApID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	} else if parent, err := d.store.CommentByApID(ctx, note.InReplyTo); err == nil {
		comment.PostApID = parent.PostApID
		comment.ParentApID = parent.ApID
	} else if errors.Is(err, storage.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "parent %q of note %q is unknown", note.InReplyTo, note.ID)
	} else {
		return err
	}

	st.note = &note
	st.objectURL = note.ID
	st.comment = comment
	return nil
}

func (d *Dispatcher) verifyPage(ctx context.Context, st *state) error {
	var page apub.Page
	if err := st.env.DecodeObject(&page); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "decode page")
	}
	if page.ID == "" || page.Audience == "" {
		return dErrors.New(dErrors.CodeBadRequest, "page is missing id or audience")
	}
	if err := d.verifyAttribution(ctx, st, page.ID, page.AttributedTo); err != nil {
		return err
	}
	// The audience community must be resolvable under the trust policy.
	if _, err := d.resolver.Resolve(ctx, page.Audience, apub.KindGroup); err != nil {
		return dErrors.Wrap(err, dErrors.CodeVerificationFailed, "resolve page audience")
	}

	st.page = &page
	st.objectURL = page.ID
	st.post = storage.Post{
		ApID:          page.ID,
		CommunityApID: page.Audience,
		CreatorApID:   st.env.Actor,
		Title:         page.Name,
		Body:          page.Content,
	}
	return nil
}

// verifyAttribution enforces that the object belongs to the activity's actor
// and shares its domain, and for updates that a matching object already
// exists under the same creator.
func (d *Dispatcher) verifyAttribution(ctx context.Context, st *state, objectID, attributedTo string) error {
	if attributedTo != st.env.Actor {
		return dErrors.Newf(dErrors.CodeVerificationFailed,
			"object attributed to %q but activity actor is %q", attributedTo, st.env.Actor)
	}
	if hostOf(objectID) != hostOf(st.env.Actor) {
		return dErrors.Newf(dErrors.CodeVerificationFailed,
			"object %q and actor %q are on different domains", objectID, st.env.Actor)
	}
	if st.env.Type != apub.KindUpdate {
		return nil
	}
	var creator string
	if post, err := d.store.PostByApID(ctx, objectID); err == nil {
		creator = post.CreatorApID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	} else if comment, err := d.store.CommentByApID(ctx, objectID); err == nil {
		creator = comment.CreatorApID
	} else if errors.Is(err, storage.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "cannot update unknown object %q", objectID)
	} else {
		return err
	}
	if creator != st.env.Actor {
		return dErrors.Newf(dErrors.CodeForbidden, "object %q was created by %q", objectID, creator)
	}
	return nil
}

func (d *Dispatcher) applyCreateOrUpdate(ctx context.Context, st *state) error {
	now := time.Now()
	if st.note != nil {
		st.comment.UpdatedAt = now
		if err := d.store.UpsertComment(ctx, st.comment); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "upsert comment")
		}
		return nil
	}
	st.post.UpdatedAt = now
	if err := d.store.UpsertPost(ctx, st.post); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "upsert post")
	}
	return nil
}

// Delete: the creator soft-deletes its content, or an actor deletes itself.
// Deleted rows survive as tombstones.

func (d *Dispatcher) verifyDelete(ctx context.Context, st *state) error {
	objectURL, err := st.env.ObjectURL()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "delete object")
	}
	st.objectURL = objectURL

	if objectURL == st.env.Actor {
		st.deleteKind = st.actor.Type
		return nil
	}
	if post, err := d.store.PostByApID(ctx, objectURL); err == nil {
		if post.CreatorApID != st.env.Actor {
			return dErrors.Newf(dErrors.CodeForbidden, "post %q was created by %q", objectURL, post.CreatorApID)
		}
		st.deleteKind = apub.KindPage
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if comment, err := d.store.CommentByApID(ctx, objectURL); err == nil {
		if comment.CreatorApID != st.env.Actor {
			return dErrors.Newf(dErrors.CodeForbidden, "comment %q was created by %q", objectURL, comment.CreatorApID)
		}
		st.deleteKind = apub.KindNote
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return dErrors.Newf(dErrors.CodeNotFound, "cannot delete unknown object %q", objectURL)
}

func (d *Dispatcher) applyDelete(ctx context.Context, st *state) error {
	var err error
	switch st.deleteKind {
	case apub.KindPage:
		err = d.store.SoftDeletePost(ctx, st.objectURL)
	case apub.KindNote:
		err = d.store.SoftDeleteComment(ctx, st.objectURL)
	case apub.KindPerson:
		var p storage.Person
		if p, err = d.store.PersonByApID(ctx, st.objectURL); err == nil {
			p.Deleted = true
			p.UpdatedAt = time.Now()
			err = d.store.UpsertPerson(ctx, p)
		}
	case apub.KindGroup:
		var c storage.Community
		if c, err = d.store.CommunityByApID(ctx, st.objectURL); err == nil {
			c.Deleted = true
			c.UpdatedAt = time.Now()
			err = d.store.UpsertCommunity(ctx, c)
		}
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete object")
	}
	return nil
}

// Like / Dislike: one vote per actor and object, the newest wins.

func (d *Dispatcher) verifyVote(ctx context.Context, st *state) error {
	objectURL, err := st.env.ObjectURL()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "vote object")
	}
	if _, err := d.store.PostByApID(ctx, objectURL); err == nil {
		st.objectURL = objectURL
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, err := d.store.CommentByApID(ctx, objectURL); err == nil {
		st.objectURL = objectURL
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return dErrors.Newf(dErrors.CodeNotFound, "cannot vote on unknown object %q", objectURL)
}

func (d *Dispatcher) applyVote(ctx context.Context, st *state) error {
	score := 1
	if st.env.Type == apub.KindDislike {
		score = -1
	}
	err := d.store.UpsertVote(ctx, storage.Vote{
		ActorApID:  st.actor.ID,
		ObjectApID: st.objectURL,
		Score:      score,
		UpdatedAt:  time.Now(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record vote")
	}
	return nil
}

// Announce: a group relays an activity of one of its members. The embedded
// activity goes through the full pipeline again under its own id.

func (d *Dispatcher) verifyAnnounce(ctx context.Context, st *state) error {
	if st.actor.Type != apub.KindGroup {
		return dErrors.Newf(dErrors.CodeVerificationFailed, "announce actor %q is not a group", st.actor.ID)
	}
	inner, err := st.env.ObjectEnvelope()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "announce requires an embedded activity")
	}
	if inner.Type == apub.KindAnnounce {
		return dErrors.New(dErrors.CodeVerificationFailed, "announce may not wrap another announce")
	}
	st.inner = inner
	st.objectURL = inner.ID
	return nil
}

func (d *Dispatcher) applyAnnounce(ctx context.Context, st *state) error {
	// The group's signature vouched for the relay; the embedded activity is
	// verified on its own merits without a transport signer.
	return d.Dispatch(ctx, *st.inner, "")
}

package resolver

import (
	"context"
	"encoding/json"
	"errors"

	"agora/internal/federation/apub"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
	"agora/pkg/platform/sentinel"
)

// localObject reads an object owned by this instance straight from storage.
// Local reads never touch the network and never spend fetch budget.
func (r *Resolver) localObject(ctx context.Context, rawURL string, kind apub.Kind) (Object, error) {
	kinds := []apub.Kind{kind}
	if kind == "" {
		kinds = []apub.Kind{apub.KindPerson, apub.KindGroup, apub.KindPage, apub.KindNote}
	}

	for _, k := range kinds {
		raw, err := r.renderLocal(ctx, rawURL, k)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return Object{}, err
		}
		return Object{URL: rawURL, Kind: k, Raw: raw, FetchedAt: r.clock()}, nil
	}
	return Object{}, dErrors.Newf(dErrors.CodeNotFound, "local object %s not found", rawURL)
}

func (r *Resolver) renderLocal(ctx context.Context, rawURL string, kind apub.Kind) (json.RawMessage, error) {
	switch kind {
	case apub.KindPerson:
		p, err := r.store.PersonByApID(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if p.Deleted {
			return json.Marshal(RenderTombstone(rawURL, apub.KindPerson))
		}
		return json.Marshal(RenderPerson(p))
	case apub.KindGroup:
		c, err := r.store.CommunityByApID(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if c.Deleted {
			return json.Marshal(RenderTombstone(rawURL, apub.KindGroup))
		}
		return json.Marshal(RenderCommunity(c))
	case apub.KindPage:
		p, err := r.store.PostByApID(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if p.Deleted {
			return json.Marshal(RenderTombstone(rawURL, apub.KindPage))
		}
		return json.Marshal(RenderPost(p))
	case apub.KindNote:
		c, err := r.store.CommentByApID(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if c.Deleted {
			return json.Marshal(RenderTombstone(rawURL, apub.KindNote))
		}
		return json.Marshal(RenderComment(c))
	default:
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no local representation for kind %s", kind)
	}
}

// RenderPerson builds the wire document of a local person.
func RenderPerson(p storage.Person) apub.Actor {
	a := apub.Actor{
		Context:           apub.DefaultContext,
		ID:                p.ApID,
		Type:              apub.KindPerson,
		PreferredUsername: p.Name,
		Name:              p.DisplayName,
		Inbox:             p.InboxURL,
		Followers:         p.FollowersURL,
		PublicKey: apub.PublicKey{
			ID:           p.ApID + "#main-key",
			Owner:        p.ApID,
			PublicKeyPem: p.PublicKeyPem,
		},
	}
	if p.SharedInboxURL != "" {
		a.Endpoints = &apub.Endpoints{SharedInbox: p.SharedInboxURL}
	}
	return a
}

// RenderCommunity builds the wire document of a local community.
func RenderCommunity(c storage.Community) apub.Actor {
	a := apub.Actor{
		Context:           apub.DefaultContext,
		ID:                c.ApID,
		Type:              apub.KindGroup,
		PreferredUsername: c.Name,
		Name:              c.Title,
		Summary:           c.Summary,
		Inbox:             c.InboxURL,
		Outbox:            c.OutboxURL,
		Followers:         c.FollowersURL,
		AttributedTo:      c.ModeratorsURL,
		PublicKey: apub.PublicKey{
			ID:           c.ApID + "#main-key",
			Owner:        c.ApID,
			PublicKeyPem: c.PublicKeyPem,
		},
	}
	if c.SharedInboxURL != "" {
		a.Endpoints = &apub.Endpoints{SharedInbox: c.SharedInboxURL}
	}
	return a
}

// RenderPost builds the wire document of a local post.
func RenderPost(p storage.Post) apub.Page {
	return apub.Page{
		Context:      apub.DefaultContext,
		ID:           p.ApID,
		Type:         apub.KindPage,
		AttributedTo: p.CreatorApID,
		Audience:     p.CommunityApID,
		Name:         p.Title,
		Content:      p.Body,
	}
}

// RenderComment builds the wire document of a local comment.
func RenderComment(c storage.Comment) apub.Note {
	inReplyTo := c.ParentApID
	if inReplyTo == "" {
		inReplyTo = c.PostApID
	}
	return apub.Note{
		Context:      apub.DefaultContext,
		ID:           c.ApID,
		Type:         apub.KindNote,
		AttributedTo: c.CreatorApID,
		InReplyTo:    inReplyTo,
		Content:      c.Content,
	}
}

// RenderTombstone is served in place of deleted local objects.
func RenderTombstone(id string, former apub.Kind) apub.Tombstone {
	return apub.Tombstone{
		Context:    apub.DefaultContext,
		ID:         id,
		Type:       apub.KindTombstone,
		FormerType: former,
	}
}

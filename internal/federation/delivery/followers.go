package delivery

import (
	"context"
	"fmt"

	"agora/internal/federation/apub"
	"agora/internal/storage"
)

// StoreFollowers adapts the follow store to a FollowerSource.
type StoreFollowers struct {
	store storage.FollowStore
}

func NewStoreFollowers(store storage.FollowStore) *StoreFollowers {
	return &StoreFollowers{store: store}
}

// FollowerInboxes returns the deliverable followers of a local actor.
// Followers without a known inbox are skipped.
func (s *StoreFollowers) FollowerInboxes(ctx context.Context, actorApID string) ([]apub.Actor, error) {
	people, err := s.store.Followers(ctx, actorApID)
	if err != nil {
		return nil, fmt.Errorf("load followers of %s: %w", actorApID, err)
	}
	actors := make([]apub.Actor, 0, len(people))
	for _, p := range people {
		if p.InboxURL == "" && p.SharedInboxURL == "" {
			continue
		}
		a := apub.Actor{ID: p.ApID, Type: apub.KindPerson, Inbox: p.InboxURL}
		if p.SharedInboxURL != "" {
			a.Endpoints = &apub.Endpoints{SharedInbox: p.SharedInboxURL}
		}
		actors = append(actors, a)
	}
	return actors, nil
}

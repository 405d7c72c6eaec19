// Package storage defines the forum-content collaborator the federation
// engine drives. The engine never owns this data; it reads actors and
// content by their stable remote IDs and applies idempotent upserts.
package storage

import (
	"context"
	"time"
)

// Instance is a known remote (or the local) server, keyed by domain.
// Software and Version are best-effort, reported by the remote's HTTP client.
type Instance struct {
	Domain    string
	Local     bool
	Software  string
	Version   string
	UpdatedAt time.Time
}

// Person is a federated user, keyed by its activity-pub ID URL.
type Person struct {
	ApID           string
	Name           string
	DisplayName    string
	Local          bool
	InboxURL       string
	SharedInboxURL string
	FollowersURL   string
	PublicKeyPem   string
	// PrivateKeyPem is set for local persons only; it signs outbound
	// activities.
	PrivateKeyPem string
	Deleted       bool
	UpdatedAt     time.Time
}

// Community is a federated group, keyed by its activity-pub ID URL.
type Community struct {
	ApID           string
	Name           string
	Title          string
	Summary        string
	Local          bool
	InboxURL       string
	SharedInboxURL string
	FollowersURL   string
	ModeratorsURL  string
	OutboxURL      string
	PublicKeyPem   string
	PrivateKeyPem  string
	Deleted        bool
	UpdatedAt      time.Time
}

// Post is a thread in a community.
type Post struct {
	ApID          string
	CommunityApID string
	CreatorApID   string
	Title         string
	Body          string
	Local         bool
	Deleted       bool
	UpdatedAt     time.Time
}

// Comment is a reply to a post or another comment.
type Comment struct {
	ApID        string
	PostApID    string
	ParentApID  string
	CreatorApID string
	Content     string
	Local       bool
	Deleted     bool
	UpdatedAt   time.Time
}

// Follow is an edge from a follower to a person or community. Pending edges
// await the target instance's Accept.
type Follow struct {
	FollowerApID string
	TargetApID   string
	Pending      bool
	CreatedAt    time.Time
}

// Vote is a like/dislike on a post or comment. Score is +1 or -1; one vote
// per actor and object.
type Vote struct {
	ActorApID  string
	ObjectApID string
	Score      int
	UpdatedAt  time.Time
}

// Stores are interface-driven to keep the engine testable and to allow
// swapping in-memory, relational, or external persistence without rewiring
// federation logic.

type PersonStore interface {
	UpsertPerson(ctx context.Context, p Person) error
	PersonByApID(ctx context.Context, apID string) (Person, error)
}

type CommunityStore interface {
	UpsertCommunity(ctx context.Context, c Community) error
	CommunityByApID(ctx context.Context, apID string) (Community, error)
}

type PostStore interface {
	UpsertPost(ctx context.Context, p Post) error
	PostByApID(ctx context.Context, apID string) (Post, error)
	SoftDeletePost(ctx context.Context, apID string) error
}

type CommentStore interface {
	UpsertComment(ctx context.Context, c Comment) error
	CommentByApID(ctx context.Context, apID string) (Comment, error)
	SoftDeleteComment(ctx context.Context, apID string) error
}

type FollowStore interface {
	UpsertFollow(ctx context.Context, f Follow) error
	AcceptFollow(ctx context.Context, followerApID, targetApID string) error
	DeleteFollow(ctx context.Context, followerApID, targetApID string) error
	FollowByIDs(ctx context.Context, followerApID, targetApID string) (Follow, error)
	Followers(ctx context.Context, targetApID string) ([]Person, error)
}

type VoteStore interface {
	UpsertVote(ctx context.Context, v Vote) error
	DeleteVote(ctx context.Context, actorApID, objectApID string) error
	VoteByIDs(ctx context.Context, actorApID, objectApID string) (Vote, error)
}

type InstanceStore interface {
	UpsertInstance(ctx context.Context, inst Instance) error
	InstanceByDomain(ctx context.Context, domain string) (Instance, error)
}

// TrustPolicyStore reads and writes the federation trust lists the policy
// cache snapshots.
type TrustPolicyStore interface {
	TrustLists(ctx context.Context) (blocked, allowed []string, err error)
	SetBlockedDomains(ctx context.Context, domains []string) error
	SetAllowedDomains(ctx context.Context, domains []string) error
}

// Store aggregates every collaborator interface the engine consumes.
type Store interface {
	PersonStore
	CommunityStore
	PostStore
	CommentStore
	FollowStore
	VoteStore
	InstanceStore
	TrustPolicyStore
}

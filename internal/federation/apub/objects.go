package apub

import (
	"encoding/json"
	"time"
)

// PublicKey is the signing key advertised in an actor document.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Endpoints holds the optional shared inbox of an actor's instance.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Actor is the document of a federated person or community (Person / Group).
// Groups additionally expose followers, outbox and a moderator collection.
type Actor struct {
	Context           json.RawMessage `json:"@context,omitempty"`
	ID                string          `json:"id"`
	Type              Kind            `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	Inbox             string          `json:"inbox"`
	Outbox            string          `json:"outbox,omitempty"`
	Followers         string          `json:"followers,omitempty"`
	AttributedTo      string          `json:"attributedTo,omitempty"`
	Endpoints         *Endpoints      `json:"endpoints,omitempty"`
	PublicKey         PublicKey       `json:"publicKey"`
	Published         *time.Time      `json:"published,omitempty"`
	Updated           *time.Time      `json:"updated,omitempty"`
}

// SharedInboxOrInbox returns the physical inbox endpoint deliveries should
// target: the instance-wide shared inbox when advertised, the personal inbox
// otherwise.
func (a *Actor) SharedInboxOrInbox() string {
	if a.Endpoints != nil && a.Endpoints.SharedInbox != "" {
		return a.Endpoints.SharedInbox
	}
	return a.Inbox
}

// Note is a comment in a discussion thread.
type Note struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         Kind            `json:"type"`
	AttributedTo string          `json:"attributedTo"`
	InReplyTo    string          `json:"inReplyTo"`
	Content      string          `json:"content"`
	Published    *time.Time      `json:"published,omitempty"`
	Updated      *time.Time      `json:"updated,omitempty"`
}

// Page is a post in a community.
type Page struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         Kind            `json:"type"`
	AttributedTo string          `json:"attributedTo"`
	Audience     string          `json:"audience,omitempty"`
	Name         string          `json:"name"`
	Content      string          `json:"content,omitempty"`
	URL          string          `json:"url,omitempty"`
	Published    *time.Time      `json:"published,omitempty"`
	Updated      *time.Time      `json:"updated,omitempty"`
}

// Tombstone is served in place of a deleted object.
type Tombstone struct {
	Context    json.RawMessage `json:"@context,omitempty"`
	ID         string          `json:"id"`
	Type       Kind            `json:"type"`
	FormerType Kind            `json:"formerType,omitempty"`
}

// OrderedCollection carries ordered URL references, e.g. a group's moderator
// list or follower collection.
type OrderedCollection struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         Kind            `json:"type"`
	TotalItems   int             `json:"totalItems"`
	OrderedItems []string        `json:"orderedItems"`
}

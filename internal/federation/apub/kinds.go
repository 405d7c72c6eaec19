// Package apub defines the wire shapes exchanged between instances: activity
// envelopes, actor documents, content objects and collections. All shapes are
// plain JSON structs; behavior lives in the federation packages that consume
// them.
package apub

// Kind is the type tag of an activity or object. The set is closed: inbound
// tags outside it are accepted at the transport layer and rejected at
// dispatch.
type Kind string

// Activity kinds.
const (
	KindFollow   Kind = "Follow"
	KindAccept   Kind = "Accept"
	KindUndo     Kind = "Undo"
	KindCreate   Kind = "Create"
	KindUpdate   Kind = "Update"
	KindDelete   Kind = "Delete"
	KindLike     Kind = "Like"
	KindDislike  Kind = "Dislike"
	KindAnnounce Kind = "Announce"
)

// Object kinds.
const (
	KindPerson            Kind = "Person"
	KindGroup             Kind = "Group"
	KindNote              Kind = "Note"
	KindPage              Kind = "Page"
	KindTombstone         Kind = "Tombstone"
	KindOrderedCollection Kind = "OrderedCollection"
)

// IsActivity reports whether k is a member of the closed activity set.
func (k Kind) IsActivity() bool {
	switch k {
	case KindFollow, KindAccept, KindUndo, KindCreate, KindUpdate,
		KindDelete, KindLike, KindDislike, KindAnnounce:
		return true
	}
	return false
}

// IsActor reports whether k names an actor document.
func (k Kind) IsActor() bool {
	return k == KindPerson || k == KindGroup
}

// Mutable reports whether objects of this kind change after creation and must
// therefore be refreshed periodically instead of cached indefinitely.
func (k Kind) Mutable() bool {
	return k.IsActor() || k == KindOrderedCollection
}

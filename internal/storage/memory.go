package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory implements Store with mutex-guarded maps. It backs tests and
// single-node development; a relational implementation can replace it without
// touching the engine.
type Memory struct {
	mu          sync.RWMutex
	persons     map[string]Person
	communities map[string]Community
	posts       map[string]Post
	comments    map[string]Comment
	follows     map[string]Follow
	votes       map[string]Vote
	instances   map[string]Instance
	blocked     []string
	allowed     []string
	clock       func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		persons:     make(map[string]Person),
		communities: make(map[string]Community),
		posts:       make(map[string]Post),
		comments:    make(map[string]Comment),
		follows:     make(map[string]Follow),
		votes:       make(map[string]Vote),
		instances:   make(map[string]Instance),
		clock:       time.Now,
	}
}

func followKey(follower, target string) string { return follower + "\x00" + target }
func voteKey(actor, object string) string      { return actor + "\x00" + object }

func (m *Memory) UpsertPerson(ctx context.Context, p Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.clock()
	m.persons[p.ApID] = p
	return nil
}

func (m *Memory) PersonByApID(ctx context.Context, apID string) (Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[apID]
	if !ok {
		return Person{}, fmt.Errorf("person %s: %w", apID, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) UpsertCommunity(ctx context.Context, c Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = m.clock()
	m.communities[c.ApID] = c
	return nil
}

func (m *Memory) CommunityByApID(ctx context.Context, apID string) (Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.communities[apID]
	if !ok {
		return Community{}, fmt.Errorf("community %s: %w", apID, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) UpsertPost(ctx context.Context, p Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.clock()
	m.posts[p.ApID] = p
	return nil
}

func (m *Memory) PostByApID(ctx context.Context, apID string) (Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[apID]
	if !ok {
		return Post{}, fmt.Errorf("post %s: %w", apID, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) SoftDeletePost(ctx context.Context, apID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[apID]
	if !ok {
		return fmt.Errorf("post %s: %w", apID, ErrNotFound)
	}
	p.Deleted = true
	p.UpdatedAt = m.clock()
	m.posts[apID] = p
	return nil
}

func (m *Memory) UpsertComment(ctx context.Context, c Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = m.clock()
	m.comments[c.ApID] = c
	return nil
}

func (m *Memory) CommentByApID(ctx context.Context, apID string) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[apID]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", apID, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) SoftDeleteComment(ctx context.Context, apID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[apID]
	if !ok {
		return fmt.Errorf("comment %s: %w", apID, ErrNotFound)
	}
	c.Deleted = true
	c.UpdatedAt = m.clock()
	m.comments[apID] = c
	return nil
}

func (m *Memory) UpsertFollow(ctx context.Context, f Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = m.clock()
	}
	m.follows[followKey(f.FollowerApID, f.TargetApID)] = f
	return nil
}

func (m *Memory) AcceptFollow(ctx context.Context, followerApID, targetApID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := followKey(followerApID, targetApID)
	f, ok := m.follows[key]
	if !ok {
		return fmt.Errorf("follow %s -> %s: %w", followerApID, targetApID, ErrNotFound)
	}
	f.Pending = false
	m.follows[key] = f
	return nil
}

func (m *Memory) DeleteFollow(ctx context.Context, followerApID, targetApID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.follows, followKey(followerApID, targetApID))
	return nil
}

func (m *Memory) FollowByIDs(ctx context.Context, followerApID, targetApID string) (Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.follows[followKey(followerApID, targetApID)]
	if !ok {
		return Follow{}, fmt.Errorf("follow %s -> %s: %w", followerApID, targetApID, ErrNotFound)
	}
	return f, nil
}

func (m *Memory) Followers(ctx context.Context, targetApID string) ([]Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Person
	for _, f := range m.follows {
		if f.TargetApID != targetApID || f.Pending {
			continue
		}
		if p, ok := m.persons[f.FollowerApID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) UpsertVote(ctx context.Context, v Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.UpdatedAt = m.clock()
	m.votes[voteKey(v.ActorApID, v.ObjectApID)] = v
	return nil
}

func (m *Memory) DeleteVote(ctx context.Context, actorApID, objectApID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.votes, voteKey(actorApID, objectApID))
	return nil
}

func (m *Memory) VoteByIDs(ctx context.Context, actorApID, objectApID string) (Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.votes[voteKey(actorApID, objectApID)]
	if !ok {
		return Vote{}, fmt.Errorf("vote %s on %s: %w", actorApID, objectApID, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) UpsertInstance(ctx context.Context, inst Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst.Domain = strings.ToLower(inst.Domain)
	inst.UpdatedAt = m.clock()
	m.instances[inst.Domain] = inst
	return nil
}

func (m *Memory) InstanceByDomain(ctx context.Context, domain string) (Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[strings.ToLower(domain)]
	if !ok {
		return Instance{}, fmt.Errorf("instance %s: %w", domain, ErrNotFound)
	}
	return inst, nil
}

func (m *Memory) TrustLists(ctx context.Context) (blocked, allowed []string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.blocked...), append([]string{}, m.allowed...), nil
}

func (m *Memory) SetBlockedDomains(ctx context.Context, domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append([]string{}, domains...)
	return nil
}

func (m *Memory) SetAllowedDomains(ctx context.Context, domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed = append([]string{}, domains...)
	return nil
}

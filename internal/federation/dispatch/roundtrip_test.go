package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/federation/apub"
	"agora/internal/federation/delivery"
	"agora/internal/federation/journal"
	"agora/internal/federation/policy"
	"agora/internal/storage"
)

// bridge forwards everything one instance sends straight into the peer
// instance's dispatcher, standing in for the HTTP leg between two servers.
type bridge struct {
	mu        sync.Mutex
	peer      *Dispatcher
	forwarded []apub.Envelope
}

func (b *bridge) Send(ctx context.Context, env apub.Envelope, origin delivery.Origin, recipients []apub.Actor) error {
	b.mu.Lock()
	b.forwarded = append(b.forwarded, env)
	peer := b.peer
	b.mu.Unlock()
	if peer == nil {
		return nil
	}
	return peer.Dispatch(ctx, env, origin.ActorID)
}

type instance struct {
	store    *storage.Memory
	resolver *fakeResolver
	out      *bridge
	d        *Dispatcher
}

func newInstance(t *testing.T, host string) *instance {
	t.Helper()
	cache := policy.NewCache(policy.LoaderFunc(func(ctx context.Context) (policy.Snapshot, error) {
		return policy.NewSnapshot(true, nil, nil), nil
	}), time.Minute)
	inst := &instance{
		store:    storage.NewMemory(),
		resolver: &fakeResolver{actors: map[string]apub.Actor{}},
		out:      &bridge{},
	}
	inst.d = New(
		policy.NewValidator(cache, host),
		journal.NewMemory(),
		inst.resolver,
		inst.store,
		inst.out,
		nil,
		"https", host,
		slog.New(slog.DiscardHandler),
	)
	return inst
}

// Two in-memory instances: a.example hosts the community, b.example hosts
// the follower. The follow goes one way, the accept comes back, and both
// sides end with a settled edge.
func TestDispatch_FollowAcceptRoundTrip(t *testing.T) {
	ctx := context.Background()

	groupHost := newInstance(t, "a.example")
	personHost := newInstance(t, "b.example")
	groupHost.out.peer = personHost.d
	personHost.out.peer = groupHost.d

	require.NoError(t, groupHost.store.UpsertCommunity(ctx, storage.Community{
		ApID:          localGroup,
		Name:          "golang",
		Local:         true,
		FollowersURL:  localGroup + "/followers",
		PrivateKeyPem: "group-key-pem",
	}))
	groupHost.resolver.actors[aliceID] = apub.Actor{ID: aliceID, Type: apub.KindPerson, Inbox: aliceInbox}
	personHost.resolver.actors[localGroup] = apub.Actor{ID: localGroup, Type: apub.KindGroup, Inbox: localGroup + "/inbox"}

	// The follower's instance records its own outbound follow as pending
	// before the remote side has said anything.
	require.NoError(t, personHost.store.UpsertFollow(ctx, storage.Follow{
		FollowerApID: aliceID,
		TargetApID:   localGroup,
		Pending:      true,
		CreatedAt:    time.Now(),
	}))

	follow := followEnvelope(t, "https://b.example/activities/follow/rt-1")
	require.NoError(t, groupHost.d.Dispatch(ctx, follow, aliceID))

	// The community's side holds the follower edge.
	edge, err := groupHost.store.FollowByIDs(ctx, aliceID, localGroup)
	require.NoError(t, err)
	assert.False(t, edge.Pending)

	// One Accept crossed back, and it settled the pending edge.
	forwarded := groupHost.out.forwarded
	require.Len(t, forwarded, 1)
	accept := forwarded[0]
	assert.Equal(t, apub.KindAccept, accept.Type)
	assert.Equal(t, localGroup, accept.Actor)
	assert.Equal(t, []string{aliceID}, accept.To)

	edge, err = personHost.store.FollowByIDs(ctx, aliceID, localGroup)
	require.NoError(t, err)
	assert.False(t, edge.Pending, "accept settles the follower's pending edge")
}

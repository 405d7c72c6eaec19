package delivery

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/federation/apub"
	"agora/internal/federation/policy"
)

type noopSigner struct{}

func (noopSigner) Sign(req *http.Request, body []byte, keyID, privateKeyPem string) error {
	req.Header.Set("Signature", "signed")
	return nil
}

type fakeDoer struct {
	mu       sync.Mutex
	calls    map[string]int
	statuses map[string]int
	// failuresBeforeOK makes an inbox fail N times, then succeed.
	failuresBeforeOK map[string]int
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		calls:            make(map[string]int),
		statuses:         make(map[string]int),
		failuresBeforeOK: make(map[string]int),
	}
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := req.URL.String()
	f.calls[url]++

	if n, ok := f.failuresBeforeOK[url]; ok && n > 0 {
		f.failuresBeforeOK[url] = n - 1
		return resp(http.StatusServiceUnavailable), nil
	}
	if status, ok := f.statuses[url]; ok {
		return resp(status), nil
	}
	return resp(http.StatusOK), nil
}

func resp(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil))}
}

func (f *fakeDoer) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeDoer) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type staticFollowers struct {
	actors []apub.Actor
}

func (s staticFollowers) FollowerInboxes(ctx context.Context, actorApID string) ([]apub.Actor, error) {
	return s.actors, nil
}

func validatorWith(snap policy.Snapshot) *policy.Validator {
	cache := policy.NewCache(policy.LoaderFunc(func(ctx context.Context) (policy.Snapshot, error) {
		return snap, nil
	}), time.Minute)
	return policy.NewValidator(cache, "a.example")
}

func newService(t *testing.T, doer *fakeDoer, snap policy.Snapshot, followers FollowerSource, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithHTTPClient(doer), WithMaxAttempts(2)}, opts...)
	return New(noopSigner{}, validatorWith(snap), followers, slog.New(slog.DiscardHandler), opts...)
}

func actorWithInbox(id, inbox, shared string) apub.Actor {
	a := apub.Actor{ID: id, Type: apub.KindPerson, Inbox: inbox}
	if shared != "" {
		a.Endpoints = &apub.Endpoints{SharedInbox: shared}
	}
	return a
}

func testEnvelope() apub.Envelope {
	return apub.Envelope{
		ID:    "https://a.example/activities/create/1",
		Type:  apub.KindCreate,
		Actor: "https://a.example/u/bob",
	}
}

func TestSend_SharedInboxAddressedOnce(t *testing.T) {
	doer := newFakeDoer()
	svc := newService(t, doer, policy.NewSnapshot(true, nil, nil), nil)

	shared := "https://b.example/inbox"
	recipients := []apub.Actor{
		actorWithInbox("https://b.example/u/alice", "https://b.example/u/alice/inbox", shared),
		actorWithInbox("https://b.example/u/carol", "https://b.example/u/carol/inbox", shared),
	}

	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{ActorID: "https://a.example/u/bob"}, recipients))
	svc.Wait()

	assert.Equal(t, 1, doer.callCount(shared), "one physical inbox, one POST")
	assert.Equal(t, 1, doer.totalCalls())
}

func TestSend_FederationDisabledSendsNothing(t *testing.T) {
	doer := newFakeDoer()
	svc := newService(t, doer, policy.NewSnapshot(false, nil, nil), nil)

	recipients := []apub.Actor{
		actorWithInbox("https://b.example/u/alice", "https://b.example/u/alice/inbox", ""),
	}
	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{}, recipients))
	svc.Wait()

	assert.Zero(t, doer.totalCalls())
}

func TestSend_BlockedRecipientFiltered(t *testing.T) {
	doer := newFakeDoer()
	svc := newService(t, doer, policy.NewSnapshot(true, []string{"bad.example"}, nil), nil)

	recipients := []apub.Actor{
		actorWithInbox("https://bad.example/u/mallory", "https://bad.example/u/mallory/inbox", ""),
		actorWithInbox("https://b.example/u/alice", "https://b.example/u/alice/inbox", ""),
	}
	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{}, recipients))
	svc.Wait()

	assert.Zero(t, doer.callCount("https://bad.example/u/mallory/inbox"))
	assert.Equal(t, 1, doer.callCount("https://b.example/u/alice/inbox"))
}

func TestSend_FollowerFanOutWhenAddressed(t *testing.T) {
	doer := newFakeDoer()
	followers := staticFollowers{actors: []apub.Actor{
		actorWithInbox("https://b.example/u/alice", "https://b.example/u/alice/inbox", ""),
		actorWithInbox("https://c.example/u/dan", "https://c.example/u/dan/inbox", ""),
	}}
	svc := newService(t, doer, policy.NewSnapshot(true, nil, nil), followers)

	env := testEnvelope()
	env.Cc = []string{apub.PublicAudience}
	origin := Origin{ActorID: "https://a.example/c/golang", FollowersURL: "https://a.example/c/golang/followers"}

	require.NoError(t, svc.Send(context.Background(), env, origin, nil))
	svc.Wait()

	assert.Equal(t, 1, doer.callCount("https://b.example/u/alice/inbox"))
	assert.Equal(t, 1, doer.callCount("https://c.example/u/dan/inbox"))
}

func TestSend_PerRecipientFailureIsolated(t *testing.T) {
	doer := newFakeDoer()
	// Permanently failing inbox: 4xx is not retried.
	doer.statuses["https://down.example/inbox"] = http.StatusForbidden
	svc := newService(t, doer, policy.NewSnapshot(true, nil, nil), nil)

	recipients := []apub.Actor{
		actorWithInbox("https://down.example/u/x", "https://down.example/inbox", ""),
		actorWithInbox("https://b.example/u/alice", "https://b.example/u/alice/inbox", ""),
	}
	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{}, recipients))
	svc.Wait()

	assert.Equal(t, 1, doer.callCount("https://down.example/inbox"), "4xx is permanent, no retry")
	assert.Equal(t, 1, doer.callCount("https://b.example/u/alice/inbox"), "healthy recipient unaffected")
}

func TestSend_RetriesTransientFailure(t *testing.T) {
	doer := newFakeDoer()
	inbox := "https://flaky.example/inbox"
	doer.failuresBeforeOK[inbox] = 1
	svc := newService(t, doer, policy.NewSnapshot(true, nil, nil), nil)

	recipients := []apub.Actor{actorWithInbox("https://flaky.example/u/x", inbox, "")}
	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{}, recipients))
	svc.Wait()

	assert.Equal(t, 2, doer.callCount(inbox), "one failure, one successful retry")
}

func TestSend_RetryCeilingRespected(t *testing.T) {
	doer := newFakeDoer()
	inbox := "https://dead.example/inbox"
	doer.statuses[inbox] = http.StatusServiceUnavailable
	svc := newService(t, doer, policy.NewSnapshot(true, nil, nil), nil, WithMaxAttempts(3))

	recipients := []apub.Actor{actorWithInbox("https://dead.example/u/x", inbox, "")}
	require.NoError(t, svc.Send(context.Background(), testEnvelope(), Origin{}, recipients))
	svc.Wait()

	assert.Equal(t, 3, doer.callCount(inbox))
}

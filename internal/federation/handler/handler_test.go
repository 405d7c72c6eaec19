package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/federation/apub"
	"agora/internal/federation/signing"
	"agora/internal/storage"
	dErrors "agora/pkg/domain-errors"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	envs    []apub.Envelope
	signers []string
	err     error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, env apub.Envelope, signerActorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	f.signers = append(f.signers, signerActorID)
	return f.err
}

type fakeResolver struct {
	actors map[string]apub.Actor
}

func (f *fakeResolver) ResolveActor(ctx context.Context, rawURL string) (apub.Actor, error) {
	a, ok := f.actors[rawURL]
	if !ok {
		return apub.Actor{}, fmt.Errorf("actor %q not resolvable", rawURL)
	}
	return a, nil
}

type testEnv struct {
	dispatcher *fakeDispatcher
	resolver   *fakeResolver
	store      *storage.Memory
	router     chi.Router

	aliceID  string
	aliceKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	privPem, pubPem, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	e := &testEnv{
		dispatcher: &fakeDispatcher{},
		resolver:   &fakeResolver{actors: map[string]apub.Actor{}},
		store:      storage.NewMemory(),
		aliceID:    "https://b.example/u/alice",
		aliceKey:   privPem,
	}
	e.resolver.actors[e.aliceID] = apub.Actor{
		ID:   e.aliceID,
		Type: apub.KindPerson,
		PublicKey: apub.PublicKey{
			ID:           e.aliceID + "#main-key",
			Owner:        e.aliceID,
			PublicKeyPem: pubPem,
		},
	}

	h := New(e.dispatcher, e.resolver, e.store, signing.HTTPSignature{},
		"https", "a.example", "agora", "0.1.0", slog.New(slog.DiscardHandler))
	e.router = chi.NewRouter()
	h.Register(e.router)
	return e
}

func (e *testEnv) signedInboxRequest(t *testing.T, env apub.Envelope) *http.Request {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://a.example/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", activityContentType)
	req.Header.Set("User-Agent", "Lemmy/0.19.5")
	require.NoError(t, signing.HTTPSignature{}.Sign(req, body, e.aliceID+"#main-key", e.aliceKey))
	return req
}

func followActivity() apub.Envelope {
	return apub.Envelope{
		ID:     "https://b.example/activities/follow/1",
		Type:   apub.KindFollow,
		Actor:  "https://b.example/u/alice",
		Object: json.RawMessage(`"https://a.example/c/golang"`),
	}
}

func TestInbox_AcceptsSignedActivity(t *testing.T) {
	e := newTestEnv(t)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, e.signedInboxRequest(t, followActivity()))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, e.dispatcher.envs, 1)
	assert.Equal(t, apub.KindFollow, e.dispatcher.envs[0].Type)
	assert.Equal(t, e.aliceID, e.dispatcher.signers[0], "dispatch sees the proven signer")

	inst, err := e.store.InstanceByDomain(context.Background(), "b.example")
	require.NoError(t, err)
	assert.Equal(t, "b.example", inst.Domain, "peer instance recorded")
}

func TestInbox_RejectsUnsignedRequest(t *testing.T) {
	e := newTestEnv(t)

	body, err := json.Marshal(followActivity())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "https://a.example/inbox", bytes.NewReader(body))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, e.dispatcher.envs, "unsigned activities never reach dispatch")
}

func TestInbox_RejectsTamperedBody(t *testing.T) {
	e := newTestEnv(t)

	req := e.signedInboxRequest(t, followActivity())
	tampered, err := json.Marshal(apub.Envelope{
		ID:    "https://b.example/activities/follow/2",
		Type:  apub.KindFollow,
		Actor: e.aliceID,
	})
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, e.dispatcher.envs)
}

func TestInbox_MalformedBodyIs400(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "https://a.example/inbox", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInbox_UnhandledTypeIsAcknowledged(t *testing.T) {
	e := newTestEnv(t)
	e.dispatcher.err = dErrors.New(dErrors.CodeUnhandledActivity, "not handled")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, e.signedInboxRequest(t, followActivity()))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestInbox_PolicyRejectionIs403(t *testing.T) {
	e := newTestEnv(t)
	e.dispatcher.err = dErrors.New(dErrors.CodeDomainBlocked, "blocked")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, e.signedInboxRequest(t, followActivity()))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInbox_PersonalAndCommunityInboxesShareThePipeline(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/u/bob/inbox", "/c/golang/inbox"} {
		env := followActivity()
		body, err := json.Marshal(env)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "https://a.example"+path, bytes.NewReader(body))
		require.NoError(t, signing.HTTPSignature{}.Sign(req, body, e.aliceID+"#main-key", e.aliceKey))

		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Len(t, e.dispatcher.envs, 2)
}

func TestGetPerson(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.UpsertPerson(context.Background(), storage.Person{
		ApID:  "https://a.example/u/bob",
		Name:  "bob",
		Local: true,
	}))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://a.example/u/bob", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, activityContentType, w.Header().Get("Content-Type"))

	var actor apub.Actor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
	assert.Equal(t, apub.KindPerson, actor.Type)
	assert.Equal(t, "bob", actor.PreferredUsername)
}

func TestGetDeletedPersonServesTombstone(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.UpsertPerson(context.Background(), storage.Person{
		ApID:    "https://a.example/u/bob",
		Name:    "bob",
		Deleted: true,
	}))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://a.example/u/bob", nil))

	assert.Equal(t, http.StatusGone, w.Code)
	var ts apub.Tombstone
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ts))
	assert.Equal(t, apub.KindTombstone, ts.Type)
	assert.Equal(t, apub.KindPerson, ts.FormerType)
}

func TestGetUnknownObjectIs404(t *testing.T) {
	e := newTestEnv(t)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://a.example/post/99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNodeInfo(t *testing.T) {
	e := newTestEnv(t)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://a.example/nodeinfo/2.0", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Software struct {
			Name string `json:"name"`
		} `json:"software"`
		Protocols []string `json:"protocols"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "agora", body.Software.Name)
	assert.Equal(t, []string{"activitypub"}, body.Protocols)
}

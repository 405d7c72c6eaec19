package apub

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ObjectURL(t *testing.T) {
	t.Run("bare URL reference", func(t *testing.T) {
		env := Envelope{ID: "https://a.example/activities/like/1", Object: json.RawMessage(`"https://b.example/post/3"`)}
		url, err := env.ObjectURL()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example/post/3", url)
	})

	t.Run("embedded object yields its id", func(t *testing.T) {
		env := Envelope{ID: "x", Object: json.RawMessage(`{"id":"https://b.example/comment/9","type":"Note"}`)}
		url, err := env.ObjectURL()
		require.NoError(t, err)
		assert.Equal(t, "https://b.example/comment/9", url)
	})

	t.Run("missing object", func(t *testing.T) {
		env := Envelope{ID: "x"}
		_, err := env.ObjectURL()
		assert.Error(t, err)
	})
}

func TestEnvelope_ObjectEnvelope(t *testing.T) {
	raw := `{
		"id": "https://a.example/activities/accept/1",
		"type": "Accept",
		"actor": "https://a.example/c/golang",
		"object": {
			"id": "https://b.example/activities/follow/7",
			"type": "Follow",
			"actor": "https://b.example/u/alice",
			"object": "https://a.example/c/golang"
		}
	}`
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	inner, err := env.ObjectEnvelope()
	require.NoError(t, err)
	assert.Equal(t, KindFollow, inner.Type)
	assert.Equal(t, "https://b.example/u/alice", inner.Actor)

	target, err := inner.ObjectURL()
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/c/golang", target)
}

func TestEnvelope_ToFollowers(t *testing.T) {
	env := Envelope{Cc: []string{PublicAudience}}
	assert.True(t, env.ToFollowers(""))

	env = Envelope{To: []string{"https://a.example/c/golang/followers"}}
	assert.True(t, env.ToFollowers("https://a.example/c/golang/followers"))
	assert.False(t, env.ToFollowers("https://a.example/c/rust/followers"))
}

func TestNewActivityID(t *testing.T) {
	id := NewActivityID(KindAccept, "https", "a.example")
	assert.True(t, strings.HasPrefix(id, "https://a.example/activities/accept/"), id)

	other := NewActivityID(KindAccept, "https", "a.example")
	assert.NotEqual(t, id, other)
}

func TestActor_SharedInboxOrInbox(t *testing.T) {
	a := Actor{Inbox: "https://b.example/u/alice/inbox"}
	assert.Equal(t, "https://b.example/u/alice/inbox", a.SharedInboxOrInbox())

	a.Endpoints = &Endpoints{SharedInbox: "https://b.example/inbox"}
	assert.Equal(t, "https://b.example/inbox", a.SharedInboxOrInbox())
}

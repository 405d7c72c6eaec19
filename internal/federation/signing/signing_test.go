package signing

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"id":"https://b.example/activities/follow/1","type":"Follow"}`)
	req := httptest.NewRequest("POST", "https://a.example/inbox", bytes.NewReader(body))
	req.Host = "a.example"

	sig := HTTPSignature{}
	require.NoError(t, sig.Sign(req, body, "https://b.example/u/alice#main-key", priv))
	assert.NotEmpty(t, req.Header.Get("Signature"))
	assert.NotEmpty(t, req.Header.Get("Digest"))

	assert.NoError(t, sig.Verify(req, body, pub))
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{"type":"Follow"}`)
	req := httptest.NewRequest("POST", "https://a.example/inbox", bytes.NewReader(body))
	req.Host = "a.example"

	sig := HTTPSignature{}
	require.NoError(t, sig.Sign(req, body, "key", priv))

	assert.Error(t, sig.Verify(req, []byte(`{"type":"Delete"}`), pub))
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, otherPub, err := GenerateKeyPair()
	require.NoError(t, err)

	body := []byte(`{}`)
	req := httptest.NewRequest("POST", "https://a.example/inbox", bytes.NewReader(body))
	req.Host = "a.example"

	sig := HTTPSignature{}
	require.NoError(t, sig.Sign(req, body, "key", priv))

	assert.Error(t, sig.Verify(req, body, otherPub))
}

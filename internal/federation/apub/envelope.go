package apub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultContext is attached to every outbound activity. Only the base
// activitystreams context is included to save bandwidth.
var DefaultContext = json.RawMessage(`"https://www.w3.org/ns/activitystreams"`)

// PublicAudience addresses an activity to the world; activities carrying it
// are fanned out to the origin actor's followers.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Envelope is the generic shape of an exchanged activity:
// {id, type, actor, object, ...}. Object is either a bare URL string or an
// embedded object; use ObjectURL / ObjectEnvelope / DecodeObject to take it
// apart.
type Envelope struct {
	Context json.RawMessage `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    Kind            `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object,omitempty"`
	To      []string        `json:"to,omitempty"`
	Cc      []string        `json:"cc,omitempty"`
}

// ObjectURL returns the activity object as a URL reference. For embedded
// objects it returns the embedded object's own id.
func (e *Envelope) ObjectURL() (string, error) {
	if len(e.Object) == 0 {
		return "", fmt.Errorf("activity %s has no object", e.ID)
	}
	var url string
	if err := json.Unmarshal(e.Object, &url); err == nil {
		return url, nil
	}
	var embedded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Object, &embedded); err != nil || embedded.ID == "" {
		return "", fmt.Errorf("activity %s: object is neither URL nor embedded object", e.ID)
	}
	return embedded.ID, nil
}

// ObjectEnvelope decodes an embedded activity (e.g. the Follow inside an
// Accept, or the inner activity of an Announce).
func (e *Envelope) ObjectEnvelope() (*Envelope, error) {
	var inner Envelope
	if err := json.Unmarshal(e.Object, &inner); err != nil {
		return nil, fmt.Errorf("activity %s: decode embedded activity: %w", e.ID, err)
	}
	if inner.ID == "" || inner.Type == "" {
		return nil, fmt.Errorf("activity %s: embedded activity missing id or type", e.ID)
	}
	return &inner, nil
}

// DecodeObject unmarshals the embedded object into v. It fails when the
// object is only a URL reference.
func (e *Envelope) DecodeObject(v any) error {
	if len(e.Object) == 0 {
		return fmt.Errorf("activity %s has no object", e.ID)
	}
	var url string
	if json.Unmarshal(e.Object, &url) == nil {
		return fmt.Errorf("activity %s: object is a reference, not embedded", e.ID)
	}
	return json.Unmarshal(e.Object, v)
}

// ToFollowers reports whether the activity is addressed to the origin
// actor's followers (directly or via the public audience).
func (e *Envelope) ToFollowers(followersURL string) bool {
	for _, addr := range append(append([]string{}, e.To...), e.Cc...) {
		if addr == PublicAudience || (followersURL != "" && addr == followersURL) {
			return true
		}
	}
	return false
}

// NewActivityID generates a unique activity URL under the local instance.
func NewActivityID(kind Kind, protocol, hostname string) string {
	return fmt.Sprintf("%s://%s/activities/%s/%s",
		protocol, hostname, strings.ToLower(string(kind)), uuid.NewString())
}

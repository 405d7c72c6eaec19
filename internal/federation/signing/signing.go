// Package signing provides the opaque sign/verify capability for federation
// HTTP exchanges. The engine treats keys as PEM blobs owned by the storage
// collaborator and never inspects them beyond signing.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Signer signs an outbound request on behalf of a local actor.
type Signer interface {
	Sign(req *http.Request, body []byte, keyID, privateKeyPem string) error
}

// Verifier checks an inbound request against the sender's advertised key.
type Verifier interface {
	Verify(req *http.Request, body []byte, publicKeyPem string) error
}

const signedHeaders = "(request-target) host date digest"

// HTTPSignature implements draft-cavage HTTP signatures with rsa-sha256,
// the scheme forum instances exchange in practice.
type HTTPSignature struct{}

// Sign computes the digest and signature headers for req.
func (HTTPSignature) Sign(req *http.Request, body []byte, keyID, privateKeyPem string) error {
	key, err := parsePrivateKey(privateKeyPem)
	if err != nil {
		return err
	}

	digest := bodyDigest(body)
	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("Digest", digest)

	signingString := buildSigningString(req, date, digest)
	hashed := sha256.Sum256([]byte(signingString))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set("Signature", fmt.Sprintf(
		`keyId=%q,algorithm="rsa-sha256",headers=%q,signature=%q`,
		keyID, signedHeaders, base64.StdEncoding.EncodeToString(sig)))
	return nil
}

// Verify checks the digest against body and the signature against
// publicKeyPem.
func (HTTPSignature) Verify(req *http.Request, body []byte, publicKeyPem string) error {
	if want := bodyDigest(body); req.Header.Get("Digest") != want {
		return fmt.Errorf("digest mismatch")
	}

	params := parseSignatureHeader(req.Header.Get("Signature"))
	sigB64, ok := params["signature"]
	if !ok {
		return fmt.Errorf("missing signature header")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	pub, err := parsePublicKey(publicKeyPem)
	if err != nil {
		return err
	}

	signingString := buildSigningString(req, req.Header.Get("Date"), req.Header.Get("Digest"))
	hashed := sha256.Sum256([]byte(signingString))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		return fmt.Errorf("signature invalid: %w", err)
	}
	return nil
}

// KeyID extracts the keyId parameter from a request's Signature header. The
// key owner is resolved from it before Verify runs.
func KeyID(req *http.Request) (string, error) {
	keyID, ok := parseSignatureHeader(req.Header.Get("Signature"))["keyId"]
	if !ok || keyID == "" {
		return "", fmt.Errorf("signature header has no keyId")
	}
	return keyID, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func buildSigningString(req *http.Request, date, digest string) string {
	return fmt.Sprintf("(request-target): %s %s\nhost: %s\ndate: %s\ndigest: %s",
		strings.ToLower(req.Method), req.URL.RequestURI(), req.Host, date, digest)
}

func parseSignatureHeader(header string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[k] = strings.Trim(v, `"`)
	}
	return params
}

func parsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return key, nil
}

// GenerateKeyPair creates a PEM-encoded RSA key pair for a new local actor.
func GenerateKeyPair() (privatePem, publicPem string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}
	privatePem = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}))
	publicPem = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return privatePem, publicPem, nil
}

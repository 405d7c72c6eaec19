package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the federation engine.
type Server struct {
	Addr string

	// Hostname is the local instance's hostname without port. Activities
	// whose URLs live under this host are always trusted and never fetched
	// over the network.
	Hostname string
	// Protocol is the scheme local object URLs are generated with.
	Protocol string

	FederationEnabled bool

	PostgresURL string
	RedisURL    string

	// AdminTokenHash is the bcrypt hash of the admin API token. Empty
	// disables the admin trust-list API.
	AdminTokenHash string
	JWTSigningKey  string
}

// TrustPolicyTTL bounds staleness of allow/block list changes without causing
// a backend read on every activity.
var TrustPolicyTTL = 1 * time.Minute

// Delivery tuning shared by outbound sends.
var (
	DeliveryTimeout     = 10 * time.Second
	DeliveryMaxAttempts = 5
	DeliveryConcurrency = 8
)

// FetchLimit is the per-resolution ceiling on outgoing HTTP fetches. It needs
// to be high enough to fetch a new community with its moderators, but bounds
// amplification from adversarial remote graphs.
var FetchLimit = 100

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("AGORA_ADDR")
	if addr == "" {
		addr = ":8536"
	}
	hostname := os.Getenv("AGORA_HOSTNAME")
	if hostname == "" {
		hostname = "localhost"
	}
	protocol := os.Getenv("AGORA_PROTOCOL")
	if protocol == "" {
		protocol = "https"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:              addr,
		Hostname:          hostname,
		Protocol:          protocol,
		FederationEnabled: boolEnv("AGORA_FEDERATION_ENABLED", true),
		PostgresURL:       os.Getenv("AGORA_POSTGRES_URL"),
		RedisURL:          os.Getenv("AGORA_REDIS_URL"),
		AdminTokenHash:    os.Getenv("AGORA_ADMIN_TOKEN_HASH"),
		JWTSigningKey:     jwtSigningKey,
	}
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

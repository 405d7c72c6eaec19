// Package delivery sends signed activities to remote inboxes. Fan-out is
// concurrent and detached from the local operation that triggered the send:
// per-recipient failures are retried with backoff, recorded, and never
// propagate back.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"agora/internal/federation/apub"
	"agora/internal/federation/policy"
	"agora/internal/federation/signing"
	"agora/internal/platform/metrics"
)

// Origin identifies the local actor an activity is sent as.
type Origin struct {
	ActorID       string
	KeyID         string
	PrivateKeyPem string
	FollowersURL  string
}

// FollowerSource resolves the deliverable inboxes of an actor's followers.
type FollowerSource interface {
	FollowerInboxes(ctx context.Context, actorApID string) ([]apub.Actor, error)
}

// Doer issues HTTP requests; satisfied by *http.Client and test fakes.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Service builds recipient sets and delivers activities.
type Service struct {
	client      Doer
	signer      signing.Signer
	validator   *policy.Validator
	followers   FollowerSource
	logger      *slog.Logger
	metrics     *metrics.Metrics
	timeout     time.Duration
	maxAttempts int
	concurrency int

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout bounds a single POST attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxAttempts sets the per-recipient retry ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithConcurrency caps parallel deliveries of one send.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMetrics records delivery attempts and exhaustions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs a delivery Service.
func New(signer signing.Signer, validator *policy.Validator, followers FollowerSource, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		client:      &http.Client{Timeout: 30 * time.Second},
		signer:      signer,
		validator:   validator,
		followers:   followers,
		logger:      logger,
		timeout:     10 * time.Second,
		maxAttempts: 5,
		concurrency: 8,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Send signs and delivers the activity to the recipients, plus the origin's
// followers when the activity addresses them. The call returns once fan-out
// is spawned; outcomes are recorded per recipient and never surface to the
// caller. Partial delivery is an accepted terminal state.
func (s *Service) Send(ctx context.Context, env apub.Envelope, origin Origin, recipients []apub.Actor) error {
	if len(env.Context) == 0 {
		env.Context = apub.DefaultContext
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	targets, err := s.buildTargets(ctx, &env, origin, recipients)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	// Fan-out outlives the triggering request.
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverAll(bg, env.ID, body, origin, targets)
	}()
	return nil
}

// Wait blocks until all spawned fan-outs finish. Used for graceful shutdown
// and tests.
func (s *Service) Wait() { s.wg.Wait() }

// buildTargets computes the deduplicated inbox set: explicit recipients,
// union follower inboxes when addressed, filtered through the domain
// validator so activities never leak to blocked or non-allowed domains.
func (s *Service) buildTargets(ctx context.Context, env *apub.Envelope, origin Origin, recipients []apub.Actor) ([]string, error) {
	actors := append([]apub.Actor{}, recipients...)

	if env.ToFollowers(origin.FollowersURL) && s.followers != nil {
		followerActors, err := s.followers.FollowerInboxes(ctx, origin.ActorID)
		if err != nil {
			return nil, fmt.Errorf("load follower inboxes: %w", err)
		}
		actors = append(actors, followerActors...)
	}

	seen := make(map[string]struct{}, len(actors))
	var targets []string
	for i := range actors {
		inbox := actors[i].SharedInboxOrInbox()
		if inbox == "" {
			continue
		}
		if err := s.validator.Validate(ctx, inbox, false); err != nil {
			s.logger.DebugContext(ctx, "recipient filtered by trust policy",
				"inbox", inbox, "error", err)
			continue
		}
		// Actors sharing one physical inbox endpoint are addressed once.
		if _, ok := seen[inbox]; ok {
			continue
		}
		seen[inbox] = struct{}{}
		targets = append(targets, inbox)
	}
	return targets, nil
}

func (s *Service) deliverAll(ctx context.Context, activityID string, body []byte, origin Origin, targets []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, inbox := range targets {
		g.Go(func() error {
			// Recipients are independent; a failure here never stops
			// the others, so errors stay inside the closure.
			s.deliverWithRetry(ctx, activityID, body, origin, inbox)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) deliverWithRetry(ctx context.Context, activityID string, body []byte, origin Origin, inbox string) {
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(s.maxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		return s.deliverOnce(ctx, body, origin, inbox)
	}

	if err := backoff.Retry(operation, bo); err != nil {
		if s.metrics != nil {
			s.metrics.DeliveryExhausted.Inc()
		}
		s.logger.WarnContext(ctx, "delivery failed",
			"activity", activityID,
			"inbox", inbox,
			"attempts", attempts,
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "delivered",
		"activity", activityID,
		"inbox", inbox,
		"attempts", attempts,
	)
}

func (s *Service) deliverOnce(ctx context.Context, body []byte, origin Origin, inbox string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	if err := s.signer.Sign(req, body, origin.KeyID, origin.PrivateKeyPem); err != nil {
		return backoff.Permanent(fmt.Errorf("sign delivery: %w", err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.observe("error", start)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.observe("ok", start)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// The remote understood the request and refused it; retrying
		// the same payload cannot succeed.
		s.observe("rejected", start)
		return backoff.Permanent(fmt.Errorf("inbox %s: status %d", inbox, resp.StatusCode))
	default:
		s.observe("retryable", start)
		return fmt.Errorf("inbox %s: status %d", inbox, resp.StatusCode)
	}
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDelivery(outcome, time.Since(start))
	}
}

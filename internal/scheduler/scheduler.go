// Package scheduler publishes due posts on a fixed poll interval.
//
// A Scheduler owns one goroutine. Each tick loads every pending post whose
// time has come and publishes them one after another, refreshing the owner's
// LinkedIn token first when it is about to expire. Every attempt ends with
// the post either published or failed; nothing is retried automatically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/automarketer/publisher/internal/core"
	"github.com/automarketer/publisher/internal/events"
	"github.com/automarketer/publisher/internal/metrics"
	"github.com/automarketer/publisher/internal/provider"
)

// Store is the persistence the scheduler needs. *core.Store implements it.
type Store interface {
	FindDue(ctx context.Context, now time.Time) ([]core.ScheduledPost, error)
	GetUser(ctx context.Context, id string) (*core.User, error)
	UpdatePostStatus(ctx context.Context, id string, u core.StatusUpdate) error
	UpdateUserCredential(ctx context.Context, userID string, u core.CredentialUpdate) error
}

// TickLocker serialises ticks across processes.
type TickLocker interface {
	TryTickLock(ctx context.Context) (release func(), ok bool, err error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	PollInterval      time.Duration // delay between the end of one tick and the start of the next
	RefreshWindow     time.Duration // refresh tokens expiring sooner than this
	DefaultTokenTTL   time.Duration // used when a refresh response has no expires_in
	DefaultAccountURN string        // author for users without a member URN
	TickLock          bool          // take the TickLocker before each tick
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 60 * time.Second
	}
	if o.RefreshWindow <= 0 {
		o.RefreshWindow = 24 * time.Hour
	}
	if o.DefaultTokenTTL <= 0 {
		o.DefaultTokenTTL = 60 * 24 * time.Hour
	}
	if o.DefaultAccountURN == "" {
		o.DefaultAccountURN = "urn:li:person:unknown"
	}
}

type Deps struct {
	Store     Store
	Publisher provider.Publisher
	Refresher provider.Refresher
	Clock     Clock           // defaults to SystemClock
	Events    events.Notifier // defaults to events.Nop
	Locker    TickLocker      // required when Options.TickLock is set
	Log       zerolog.Logger
}

type Scheduler struct {
	store  Store
	pub    provider.Publisher
	ref    provider.Refresher
	clock  Clock
	events events.Notifier
	locker TickLocker
	log    zerolog.Logger
	opt    Options

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func New(d Deps, opt Options) *Scheduler {
	opt.defaults()
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Scheduler{
		store:  d.Store,
		pub:    d.Publisher,
		ref:    d.Refresher,
		clock:  d.Clock,
		events: d.Events,
		locker: d.Locker,
		log:    d.Log,
		opt:    opt,
	}
}

// Start launches the poll loop. The first tick runs immediately.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	prev := s.done
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, prev, s.stopCh, s.done)
	s.log.Info().Dur("interval", s.opt.PollInterval).Msg("scheduler started")
}

// Stop asks the loop to exit once the current tick, if any, has finished.
// It does not wait; use Done for that. Stopping twice is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.log.Info().Msg("scheduler stopping")
}

// Done is closed when the loop goroutine has returned.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.done
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, prev <-chan struct{}, stop, done chan struct{}) {
	defer close(done)

	// a restarted loop never overlaps the one it replaces
	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		}
	}

	// in-flight publishes are not cancelled by shutdown
	work := context.WithoutCancel(ctx)
	for {
		s.runTick(work)

		t := time.NewTimer(s.opt.PollInterval)
		select {
		case <-stop:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			s.markStopped(stop)
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) markStopped(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == stop && s.running {
		s.running = false
		close(stop)
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerTicks.WithLabelValues("error").Inc()
			s.log.Error().Interface("panic", r).Msg("tick panicked")
		}
	}()
	if err := s.Tick(ctx); err != nil {
		metrics.SchedulerTicks.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("tick failed")
	}
}

// Tick runs one poll: load due posts and attempt each in order.
// The returned error only reports failure to load the work; per-post
// failures are recorded on the post.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.opt.TickLock && s.locker != nil {
		release, ok, err := s.locker.TryTickLock(ctx)
		if err != nil {
			return fmt.Errorf("tick lock: %w", err)
		}
		if !ok {
			metrics.SchedulerTicks.WithLabelValues("skipped").Inc()
			s.log.Debug().Msg("another instance holds the tick lock")
			return nil
		}
		defer release()
	}

	now := s.clock.Now().UTC()
	posts, err := s.store.FindDue(ctx, now)
	if err != nil {
		return fmt.Errorf("find due posts: %w", err)
	}
	metrics.DuePosts.Observe(float64(len(posts)))
	if len(posts) > 0 {
		s.log.Info().Int("due", len(posts)).Msg("publishing due posts")
	}

	for i := range posts {
		s.publishOne(ctx, posts[i])
	}
	metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	return nil
}

var (
	errUserNotFound = errors.New("owner not found")
	errNoToken      = errors.New("owner has no access token")
)

// failureReason is the text stored on a failed post.
func failureReason(err error) string {
	switch {
	case errors.Is(err, errUserNotFound):
		return "User not found"
	case errors.Is(err, errNoToken):
		return "User has no LinkedIn token"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}

func (s *Scheduler) publishOne(ctx context.Context, post core.ScheduledPost) {
	log := s.log.With().Str("post_id", post.ID).Str("owner_id", post.OwnerID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("publish attempt panicked")
			s.finish(ctx, log, post, core.StatusFailed, "", fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	externalID, err := s.attempt(ctx, log, post)
	if err != nil {
		s.finish(ctx, log, post, core.StatusFailed, "", failureReason(err))
		return
	}
	s.finish(ctx, log, post, core.StatusPublished, externalID, "")
}

func (s *Scheduler) attempt(ctx context.Context, log zerolog.Logger, post core.ScheduledPost) (string, error) {
	user, err := s.store.GetUser(ctx, post.OwnerID)
	if errors.Is(err, core.ErrNotFound) {
		return "", errUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load owner: %w", err)
	}
	if user.Credential.AccessToken == "" {
		return "", errNoToken
	}

	token := s.ensureFreshToken(ctx, log, user)
	urn := user.Credential.MemberURN
	if urn == "" {
		urn = s.opt.DefaultAccountURN
	}

	metrics.Publishing.Set(1)
	defer metrics.Publishing.Set(0)
	start := time.Now()
	id, err := s.pub.Publish(ctx, token, urn, post.Content)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", provider.ErrEmptyPostID
	}
	return id, nil
}

// ensureFreshToken returns the token to publish with, refreshing it first
// when it expires within the refresh window. Refresh problems are logged
// and the current token is used as is.
func (s *Scheduler) ensureFreshToken(ctx context.Context, log zerolog.Logger, user *core.User) string {
	cred := user.Credential
	if cred.ExpiresAt == nil {
		return cred.AccessToken
	}
	now := s.clock.Now().UTC()
	left := cred.ExpiresAt.Sub(now)
	if left >= s.opt.RefreshWindow {
		return cred.AccessToken
	}
	if cred.RefreshToken == "" {
		metrics.TokenRefresh.WithLabelValues("no_refresh_token").Inc()
		log.Warn().Dur("expires_in", left).Msg("token expiring and no refresh token")
		return cred.AccessToken
	}
	if s.ref == nil {
		return cred.AccessToken
	}

	tok, err := s.ref.Refresh(ctx, cred.RefreshToken)
	if err == nil && tok.AccessToken == "" {
		err = provider.ErrMalformedToken
	}
	if err != nil {
		metrics.TokenRefresh.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("token refresh failed, using current token")
		return cred.AccessToken
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if tok.ExpiresIn <= 0 {
		ttl = s.opt.DefaultTokenTTL
	}
	upd := core.CredentialUpdate{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    now.Add(ttl),
	}
	if err := s.store.UpdateUserCredential(ctx, user.ID, upd); err != nil {
		log.Error().Err(err).Msg("persist refreshed token")
	} else {
		log.Info().Time("expires_at", upd.ExpiresAt).Msg("token refreshed")
	}
	metrics.TokenRefresh.WithLabelValues("refreshed").Inc()
	return tok.AccessToken
}

func (s *Scheduler) finish(ctx context.Context, log zerolog.Logger, post core.ScheduledPost, status core.PostStatus, externalID, reason string) {
	upd := core.StatusUpdate{
		Status:         status,
		ExternalPostID: externalID,
		ErrorMessage:   reason,
		UpdatedAt:      s.clock.Now().UTC(),
	}
	if err := s.store.UpdatePostStatus(ctx, post.ID, upd); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("record post status")
		return
	}
	metrics.PublishTotal.WithLabelValues(string(status)).Inc()

	if status == core.StatusPublished {
		log.Info().Str("external_post_id", externalID).Msg("post published")
	} else {
		log.Warn().Str("reason", reason).Msg("post failed")
	}

	ev := events.Event{
		PostID:         post.ID,
		OwnerID:        post.OwnerID,
		Status:         status,
		ExternalPostID: externalID,
		ErrorMessage:   reason,
		At:             upd.UpdatedAt,
	}
	if err := s.events.PostFinished(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("notify post finished")
	}
}

package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/automarketer/publisher/internal/core"
	database "github.com/automarketer/publisher/internal/db"
)

func newStore(t *testing.T) *core.Store {
	pg := database.StartTestPostgres(t)
	return core.NewStore(pg)
}

func createUser(t *testing.T, s *core.Store, email string) string {
	id, err := s.CreateUser(context.Background(), email)
	require.NoError(t, err)
	return id
}

func schedule(t *testing.T, s *core.Store, owner, content string, at time.Time) *core.ScheduledPost {
	p, err := s.CreateScheduledPost(context.Background(), core.NewScheduledPost{
		OwnerID: owner, Content: content, ScheduledAt: at,
	})
	require.NoError(t, err)
	return p
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newStore(t)
	createUser(t, s, "a@example.com")
	_, err := s.CreateUser(context.Background(), "a@example.com")
	require.ErrorIs(t, err, core.ErrEmailTaken)
}

func TestGetUser_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetUser(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCredential_SetAndRefresh(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")

	u, err := s.GetUser(ctx, uid)
	require.NoError(t, err)
	require.Empty(t, u.Credential.AccessToken)
	require.Nil(t, u.Credential.ExpiresAt)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLinkedInCredential(ctx, uid, core.Credential{
		AccessToken: "tok", RefreshToken: "ref", ExpiresAt: &exp, MemberURN: "urn:li:person:42",
	}))

	newExp := exp.Add(60 * 24 * time.Hour)
	require.NoError(t, s.UpdateUserCredential(ctx, uid, core.CredentialUpdate{AccessToken: "tok2", ExpiresAt: newExp}))

	u, err = s.GetUser(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "tok2", u.Credential.AccessToken)
	require.Equal(t, "ref", u.Credential.RefreshToken, "empty refresh token keeps the stored one")
	require.Equal(t, "urn:li:person:42", u.Credential.MemberURN)
	require.NotNil(t, u.Credential.ExpiresAt)
	require.True(t, newExp.Equal(*u.Credential.ExpiresAt))

	require.ErrorIs(t, s.UpdateUserCredential(ctx, "missing", core.CredentialUpdate{AccessToken: "x", ExpiresAt: newExp}), core.ErrNotFound)
}

func TestFindDue_OnlyPendingAndPast(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	past := schedule(t, s, uid, "past", now.Add(-time.Hour))
	exact := schedule(t, s, uid, "exact", now)
	schedule(t, s, uid, "future", now.Add(time.Hour))
	done := schedule(t, s, uid, "done", now.Add(-2*time.Hour))
	require.NoError(t, s.UpdatePostStatus(ctx, done.ID, core.StatusUpdate{
		Status: core.StatusPublished, ExternalPostID: "urn:li:share:1", UpdatedAt: now,
	}))

	due, err := s.FindDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, past.ID, due[0].ID)
	require.Equal(t, exact.ID, due[1].ID)
}

func TestUpdatePostStatus_TerminalOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")
	p := schedule(t, s, uid, "hello", time.Now().Add(-time.Minute))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdatePostStatus(ctx, p.ID, core.StatusUpdate{
		Status: core.StatusFailed, ErrorMessage: "User has no LinkedIn token", UpdatedAt: at,
	}))
	err := s.UpdatePostStatus(ctx, p.ID, core.StatusUpdate{
		Status: core.StatusPublished, ExternalPostID: "x", UpdatedAt: at,
	})
	require.ErrorIs(t, err, core.ErrNotPending)

	got, err := s.GetScheduledPost(ctx, uid, p.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "User has no LinkedIn token", *got.ErrorMessage)
	require.Nil(t, got.ExternalPostID)
	require.True(t, at.Equal(got.UpdatedAt))
}

func TestPublishedRequiresExternalID(t *testing.T) {
	s := newStore(t)
	uid := createUser(t, s, "a@example.com")
	p := schedule(t, s, uid, "hello", time.Now().Add(-time.Minute))

	err := s.UpdatePostStatus(context.Background(), p.ID, core.StatusUpdate{Status: core.StatusPublished, UpdatedAt: time.Now()})
	require.Error(t, err)
}

func TestUpdateScheduledPost_RequeuesFailed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")
	p := schedule(t, s, uid, "hello", time.Now().Add(-time.Minute))
	require.NoError(t, s.UpdatePostStatus(ctx, p.ID, core.StatusUpdate{
		Status: core.StatusFailed, ErrorMessage: "boom", UpdatedAt: time.Now(),
	}))

	// editing only the content keeps it failed
	content := "edited"
	got, err := s.UpdateScheduledPost(ctx, uid, p.ID, core.ScheduledPostPatch{Content: &content})
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.Equal(t, "edited", got.Content)

	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	got, err = s.UpdateScheduledPost(ctx, uid, p.ID, core.ScheduledPostPatch{ScheduledAt: &later})
	require.NoError(t, err)
	require.Equal(t, core.StatusPending, got.Status)
	require.Nil(t, got.ErrorMessage)
	require.True(t, later.Equal(got.ScheduledAt))
}

func TestUpdateScheduledPost_PublishedIsImmutable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")
	p := schedule(t, s, uid, "hello", time.Now().Add(-time.Minute))
	require.NoError(t, s.UpdatePostStatus(ctx, p.ID, core.StatusUpdate{
		Status: core.StatusPublished, ExternalPostID: "urn:li:share:9", UpdatedAt: time.Now(),
	}))

	content := "nope"
	_, err := s.UpdateScheduledPost(ctx, uid, p.ID, core.ScheduledPostPatch{Content: &content})
	require.ErrorIs(t, err, core.ErrAlreadyPublished)

	_, err = s.UpdateScheduledPost(ctx, "someone-else", p.ID, core.ScheduledPostPatch{Content: &content})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestListAndDeleteScheduledPosts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid := createUser(t, s, "a@example.com")
	other := createUser(t, s, "b@example.com")
	now := time.Now()
	second := schedule(t, s, uid, "second", now.Add(2*time.Hour))
	schedule(t, s, uid, "first", now.Add(time.Hour))
	schedule(t, s, other, "not mine", now.Add(time.Hour))

	list, err := s.ListScheduledPosts(ctx, uid, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "first", list[0].Content)
	require.Equal(t, core.DefaultTimezone, list[0].Timezone)

	pending := core.StatusPending
	list, err = s.ListScheduledPosts(ctx, uid, &pending)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeleteScheduledPost(ctx, uid, second.ID))
	require.ErrorIs(t, s.DeleteScheduledPost(ctx, uid, second.ID), core.ErrNotFound)
}

func TestTryTickLock_SingleHolder(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	release, ok, err := s.TryTickLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var acquired int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, ok, err := s.TryTickLock(ctx)
			if err == nil && ok {
				atomic.AddInt64(&acquired, 1)
				rel()
			}
		}()
	}
	wg.Wait()
	require.Zero(t, atomic.LoadInt64(&acquired), "lock must not be shared")

	release()
	rel, ok, err := s.TryTickLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	rel()
}

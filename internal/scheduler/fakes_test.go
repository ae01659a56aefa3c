package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/automarketer/publisher/internal/core"
	"github.com/automarketer/publisher/internal/events"
	"github.com/automarketer/publisher/internal/provider"
)

type memStore struct {
	mu    sync.Mutex
	posts map[string]*core.ScheduledPost
	users map[string]*core.User

	findErr      error
	findCalls    int
	statusWrites int
	credWrites   []core.CredentialUpdate
}

func newMemStore() *memStore {
	return &memStore{posts: map[string]*core.ScheduledPost{}, users: map[string]*core.User{}}
}

func (m *memStore) addUser(u core.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memStore) addPost(p core.ScheduledPost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = core.StatusPending
	}
	m.posts[p.ID] = &p
}

func (m *memStore) post(id string) core.ScheduledPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.posts[id]
}

func (m *memStore) user(id string) core.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memStore) calls() (find, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls, m.statusWrites
}

func (m *memStore) FindDue(_ context.Context, now time.Time) ([]core.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []core.ScheduledPost
	for _, p := range m.posts {
		if p.Status == core.StatusPending && !p.ScheduledAt.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) UpdatePostStatus(_ context.Context, id string, u core.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.Status != core.StatusPending {
		return core.ErrNotPending
	}
	m.statusWrites++
	p.Status = u.Status
	p.UpdatedAt = u.UpdatedAt
	p.ExternalPostID, p.ErrorMessage = nil, nil
	if u.ExternalPostID != "" {
		v := u.ExternalPostID
		p.ExternalPostID = &v
	}
	if u.ErrorMessage != "" {
		v := u.ErrorMessage
		p.ErrorMessage = &v
	}
	return nil
}

func (m *memStore) UpdateUserCredential(_ context.Context, userID string, u core.CredentialUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	usr, ok := m.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	m.credWrites = append(m.credWrites, u)
	usr.Credential.AccessToken = u.AccessToken
	if u.RefreshToken != "" {
		usr.Credential.RefreshToken = u.RefreshToken
	}
	exp := u.ExpiresAt
	usr.Credential.ExpiresAt = &exp
	return nil
}

type publishCall struct {
	Token, URN, Content string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	fn    func(call publishCall) (string, error)
}

func (f *fakePublisher) Publish(_ context.Context, token, urn, content string) (string, error) {
	call := publishCall{Token: token, URN: urn, Content: content}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "abc123", nil
	}
	return fn(call)
}

func (f *fakePublisher) Calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	tok   provider.Token
	err   error
}

func (f *fakeRefresher) Refresh(context.Context, string) (provider.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tok, f.err
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingNotifier) PostFinished(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (l *fakeLocker) TryTickLock(context.Context) (func(), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

var errConnRefused = errors.New("dial tcp 10.0.0.1:443: connect: connection refused")

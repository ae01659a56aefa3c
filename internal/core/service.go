package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/automarketer/publisher/internal/db"
)

type Store struct{ DB *db.DB }

func NewStore(d *db.DB) *Store { return &Store{DB: d} }

var (
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrAlreadyPublished = errors.New("post already published")
	ErrNotPending       = errors.New("post is no longer pending")
)

// tickLockKey identifies the publisher's session advisory lock.
const tickLockKey int64 = 0x7075626c697368

const postColumns = `id, owner_id, content, scheduled_at, timezone, status,
	external_post_id, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*ScheduledPost, error) {
	var p ScheduledPost
	var status string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Content, &p.ScheduledAt, &p.Timezone, &status,
		&p.ExternalPostID, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = PostStatus(status)
	p.ScheduledAt = p.ScheduledAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]ScheduledPost, error) {
	defer rows.Close()
	var out []ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateUser registers an account by email and returns its id.
func (s *Store) CreateUser(ctx context.Context, email string) (string, error) {
	id := uuid.New().String()
	_, err := s.DB.Pool.Exec(ctx, `INSERT INTO users(id, email) VALUES($1, $2)`, id, email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var token, refresh, urn *string
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT id, email, linkedin_token, linkedin_refresh_token, linkedin_token_expiry,
		       linkedin_member_urn, created_at
		FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &token, &refresh, &u.Credential.ExpiresAt, &urn, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.Credential.AccessToken = deref(token)
	u.Credential.RefreshToken = deref(refresh)
	u.Credential.MemberURN = deref(urn)
	if u.Credential.ExpiresAt != nil {
		t := u.Credential.ExpiresAt.UTC()
		u.Credential.ExpiresAt = &t
	}
	return &u, nil
}

// SetLinkedInCredential stores the full credential obtained from the OAuth flow.
func (s *Store) SetLinkedInCredential(ctx context.Context, userID string, c Credential) error {
	tag, err := s.DB.Pool.Exec(ctx, `
		UPDATE users SET linkedin_token=$2, linkedin_refresh_token=$3, linkedin_token_expiry=$4,
		       linkedin_member_urn=$5, updated_at=now()
		WHERE id=$1`,
		userID, nullIfEmpty(c.AccessToken), nullIfEmpty(c.RefreshToken), c.ExpiresAt, nullIfEmpty(c.MemberURN))
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserCredential persists a refreshed access token and its new expiry.
func (s *Store) UpdateUserCredential(ctx context.Context, userID string, u CredentialUpdate) error {
	tag, err := s.DB.Pool.Exec(ctx, `
		UPDATE users SET linkedin_token=$2,
		       linkedin_refresh_token=COALESCE($3, linkedin_refresh_token),
		       linkedin_token_expiry=$4, updated_at=now()
		WHERE id=$1`,
		userID, u.AccessToken, nullIfEmpty(u.RefreshToken), u.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateScheduledPost(ctx context.Context, in NewScheduledPost) (*ScheduledPost, error) {
	tz := in.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	row := s.DB.Pool.QueryRow(ctx, `
		INSERT INTO scheduled_posts(id, owner_id, content, scheduled_at, timezone, status)
		VALUES($1, $2, $3, $4, $5, 'pending')
		RETURNING `+postColumns,
		uuid.New().String(), in.OwnerID, in.Content, in.ScheduledAt.UTC(), tz)
	p, err := scanPost(row)
	if err != nil {
		return nil, fmt.Errorf("insert scheduled post: %w", err)
	}
	return p, nil
}

func (s *Store) GetScheduledPost(ctx context.Context, ownerID, id string) (*ScheduledPost, error) {
	p, err := scanPost(s.DB.Pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts WHERE id=$1 AND owner_id=$2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select scheduled post: %w", err)
	}
	return p, nil
}

// ListScheduledPosts returns the owner's posts, optionally filtered by status.
func (s *Store) ListScheduledPosts(ctx context.Context, ownerID string, status *PostStatus) ([]ScheduledPost, error) {
	q := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE owner_id=$1`
	args := []any{ownerID}
	if status != nil {
		q += ` AND status=$2`
		args = append(args, string(*status))
	}
	q += ` ORDER BY scheduled_at`
	rows, err := s.DB.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	return collectPosts(rows)
}

// UpdateScheduledPost edits a post that has not been published yet.
// Rescheduling a failed post puts it back in the queue.
func (s *Store) UpdateScheduledPost(ctx context.Context, ownerID, id string, patch ScheduledPostPatch) (*ScheduledPost, error) {
	var out *ScheduledPost
	err := s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPost(tx.QueryRow(ctx,
			`SELECT `+postColumns+` FROM scheduled_posts WHERE id=$1 AND owner_id=$2 FOR UPDATE`, id, ownerID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock scheduled post: %w", err)
		}
		if p.Status == StatusPublished {
			return ErrAlreadyPublished
		}

		if patch.Content != nil {
			p.Content = *patch.Content
		}
		if patch.Timezone != nil && *patch.Timezone != "" {
			p.Timezone = *patch.Timezone
		}
		if patch.ScheduledAt != nil {
			p.ScheduledAt = patch.ScheduledAt.UTC()
			if p.Status == StatusFailed {
				p.Status = StatusPending
				p.ErrorMessage = nil
			}
		}

		err = tx.QueryRow(ctx, `
			UPDATE scheduled_posts
			SET content=$3, scheduled_at=$4, timezone=$5, status=$6, error_message=$7, updated_at=now()
			WHERE id=$1 AND owner_id=$2
			RETURNING updated_at`,
			p.ID, ownerID, p.Content, p.ScheduledAt, p.Timezone, string(p.Status), p.ErrorMessage).
			Scan(&p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update scheduled post: %w", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = p
		return nil
	})
	return out, err
}

func (s *Store) DeleteScheduledPost(ctx context.Context, ownerID, id string) error {
	tag, err := s.DB.Pool.Exec(ctx, `DELETE FROM scheduled_posts WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete scheduled post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDue returns every pending post scheduled at or before now, oldest first.
// There is no batch limit: one tick drains the whole backlog.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]ScheduledPost, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE status='pending' AND scheduled_at <= $1
		ORDER BY scheduled_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	return collectPosts(rows)
}

// UpdatePostStatus records a terminal transition. Only pending posts move.
func (s *Store) UpdatePostStatus(ctx context.Context, id string, u StatusUpdate) error {
	tag, err := s.DB.Pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET status=$2, external_post_id=$3, error_message=$4, updated_at=$5
		WHERE id=$1 AND status='pending'`,
		id, string(u.Status), nullIfEmpty(u.ExternalPostID), nullIfEmpty(u.ErrorMessage), u.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// TryTickLock takes the cluster-wide publisher lock without waiting.
// ok is false when another process holds it. release must be called when ok.
func (s *Store) TryTickLock(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := s.DB.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, tickLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, tickLockKey)
		conn.Release()
	}, true, nil
}

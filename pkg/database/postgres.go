package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/models"
)

//go:embed schema.sql
var Schema string

const uniqueViolation = "23505"

// PostgresDatabase is the PostgreSQL implementation of DatabaseInterface.
type PostgresDatabase struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresDatabase opens and pings a connection pool for dsn.
func NewPostgresDatabase(ctx context.Context, dsn string, log *zap.Logger) (*PostgresDatabase, error) {
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn,
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			log.Warn("postgres open failed", zap.Int("strategy", i+1), zap.Error(err))
			lastErr = err
			continue
		}

		pg := &PostgresDatabase{db: db, log: log}
		pg.tunePoolParams()

		if err := db.PingContext(ctx); err != nil {
			log.Warn("postgres ping failed", zap.Int("strategy", i+1), zap.Error(err))
			db.Close()
			lastErr = err
			continue
		}

		log.Info("postgres connection established", zap.Int("strategy", i+1))
		return pg, nil
	}

	return nil, fmt.Errorf("connect to postgres: %w", lastErr)
}

// NewPostgresDatabaseFromDB wraps an already opened pool.
func NewPostgresDatabaseFromDB(db *sql.DB, log *zap.Logger) *PostgresDatabase {
	return &PostgresDatabase{db: db, log: log}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (db *PostgresDatabase) Migrate(ctx context.Context) error {
	if _, err := db.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CountRows returns the number of rows in one of the schema's tables.
func (db *PostgresDatabase) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "members", "posts", "notifications", "point_transactions":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// addConnectionParams appends query parameters to dsn.
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	if !strings.Contains(dsn, "://") {
		// key=value DSN
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// tunePoolParams sizes the application-side pool.
func (db *PostgresDatabase) tunePoolParams() {
	db.db.SetMaxOpenConns(20)
	db.db.SetMaxIdleConns(10)
	db.db.SetConnMaxLifetime(5 * time.Minute)
	db.db.SetConnMaxIdleTime(2 * time.Minute)
}

// ================= Members =================

// CreateMember inserts member; a taken email returns ErrDuplicate.
func (db *PostgresDatabase) CreateMember(ctx context.Context, member *models.Member) error {
	member.Email = strings.ToLower(strings.TrimSpace(member.Email))
	query := `
		INSERT INTO members (email, password_hash, name, points, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRowContext(ctx, query, member.Email, member.Password, member.Name, member.Points).
		Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("member %s: %w", member.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

const memberColumns = `id, email, password_hash, name, points, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	m := &models.Member{}
	if err := row.Scan(&m.ID, &m.Email, &m.Password, &m.Name, &m.Points, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemberByID loads one member.
func (db *PostgresDatabase) GetMemberByID(ctx context.Context, id string) (*models.Member, error) {
	if !validID(id) {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	m, err := scanMember(db.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetMemberByEmail loads one member by email.
func (db *PostgresDatabase) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m, err := scanMember(db.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ================= Points =================

// GetPoints returns the member's balance.
func (db *PostgresDatabase) GetPoints(ctx context.Context, memberID string) (int, error) {
	if !validID(memberID) {
		return 0, fmt.Errorf("member %s: %w", memberID, ErrNotFound)
	}
	var points int
	err := db.db.QueryRowContext(ctx, `SELECT points FROM members WHERE id = $1`, memberID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("member %s: %w", memberID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get points: %w", err)
	}
	return points, nil
}

// AdjustPoints applies the delta with the non-negative check in the UPDATE
// itself and records the ledger entry in the same transaction.
func (db *PostgresDatabase) AdjustPoints(ctx context.Context, entry *models.PointTransaction) (int, error) {
	if !validID(entry.MemberID) {
		return 0, fmt.Errorf("member %s: %w", entry.MemberID, ErrNotFound)
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `
		UPDATE members SET points = points + $2, updated_at = NOW()
		WHERE id = $1 AND points + $2 >= 0
		RETURNING points
	`, entry.MemberID, entry.Delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var current int
		lookupErr := tx.QueryRowContext(ctx, `SELECT points FROM members WHERE id = $1`, entry.MemberID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return 0, fmt.Errorf("member %s: %w", entry.MemberID, ErrNotFound)
		}
		if lookupErr != nil {
			return 0, fmt.Errorf("failed to read points: %w", lookupErr)
		}
		return current, fmt.Errorf("member %s balance %d, delta %d: %w", entry.MemberID, current, entry.Delta, ErrInsufficientBalance)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust points: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO point_transactions (member_id, post_id, delta, balance_after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, entry.MemberID, nullString(entry.PostID), entry.Delta, balance, string(entry.Reason)).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record point transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit points adjustment: %w", err)
	}

	entry.BalanceAfter = balance
	return balance, nil
}

// ListPointTransactions returns the member's ledger entries, newest first.
func (db *PostgresDatabase) ListPointTransactions(ctx context.Context, memberID string) ([]models.PointTransaction, error) {
	if !validID(memberID) {
		return []models.PointTransaction{}, nil
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, member_id, post_id, delta, balance_after, reason, created_at
		FROM point_transactions WHERE member_id = $1
		ORDER BY created_at DESC, seq DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list point transactions: %w", err)
	}
	defer rows.Close()

	out := make([]models.PointTransaction, 0)
	for rows.Next() {
		var t models.PointTransaction
		var postID sql.NullString
		var reason string
		if err := rows.Scan(&t.ID, &t.MemberID, &postID, &t.Delta, &t.BalanceAfter, &reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan point transaction: %w", err)
		}
		t.PostID = postID.String
		t.Reason = models.PointReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ================= Posts =================

const postColumns = `id, posted_by, type, status, hours_needed, description, date_time, accepted_by, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	p := &models.Post{}
	var postType, status string
	var acceptedBy sql.NullString
	err := row.Scan(&p.ID, &p.PostedBy, &postType, &status, &p.HoursNeeded, &p.Description,
		&p.DateTime, &acceptedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Type = models.PostType(postType)
	p.Status = models.PostStatus(status)
	p.AcceptedBy = acceptedBy.String
	return p, nil
}

// CreatePost inserts post at status open.
func (db *PostgresDatabase) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	post.Status = models.PostStatusOpen
	post.AcceptedBy = ""
	query := `
		INSERT INTO posts (id, posted_by, type, status, hours_needed, description, date_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := db.db.QueryRowContext(ctx, query, post.ID, post.PostedBy, string(post.Type), string(post.Status),
		post.HoursNeeded, post.Description, post.DateTime).
		Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetPost loads one post.
func (db *PostgresDatabase) GetPost(ctx context.Context, id string) (*models.Post, error) {
	if !validID(id) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	p, err := scanPost(db.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

// ListPostsExcludingMember returns posts not owned by memberID, newest first.
func (db *PostgresDatabase) ListPostsExcludingMember(ctx context.Context, memberID string) ([]models.Post, error) {
	if !validID(memberID) {
		// Owns nothing, so every post belongs to someone else.
		return db.queryPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, seq DESC`)
	}
	return db.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE posted_by <> $1 ORDER BY created_at DESC, seq DESC`, memberID)
}

// ListPostsByMember returns posts owned by memberID, newest first.
func (db *PostgresDatabase) ListPostsByMember(ctx context.Context, memberID string) ([]models.Post, error) {
	if !validID(memberID) {
		return []models.Post{}, nil
	}
	return db.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE posted_by = $1 ORDER BY created_at DESC, seq DESC`, memberID)
}

func (db *PostgresDatabase) queryPosts(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePost applies patch in a single UPDATE whose WHERE clause carries cond,
// so the check and the write are one atomic statement.
func (db *PostgresDatabase) UpdatePost(ctx context.Context, id string, patch models.PostPatch, cond PostCondition) (*models.Post, error) {
	if !validID(id) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if cond.PostedBy != "" && !validID(cond.PostedBy) {
		return nil, db.missedUpdate(ctx, id)
	}
	sets, args := buildPostPatch(patch)
	args = append([]any{id}, args...)

	where := []string{"id = $1"}
	if cond.PostedBy != "" {
		args = append(args, cond.PostedBy)
		where = append(where, fmt.Sprintf("posted_by = $%d", len(args)))
	}
	if cond.Type != "" {
		args = append(args, string(cond.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if cond.HoursNeeded != 0 {
		args = append(args, cond.HoursNeeded)
		where = append(where, fmt.Sprintf("hours_needed = $%d", len(args)))
	}
	if len(cond.ForbiddenStatuses) > 0 {
		statuses := make([]string, len(cond.ForbiddenStatuses))
		for i, s := range cond.ForbiddenStatuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("NOT (status = ANY($%d::text[]))", len(args)))
	}

	query := fmt.Sprintf(`UPDATE posts SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), strings.Join(where, " AND "), postColumns)

	p, err := scanPost(db.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.missedUpdate(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return p, nil
}

// buildPostPatch renders SET clauses; placeholders start at $2 ($1 is the id).
func buildPostPatch(patch models.PostPatch) ([]string, []any) {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 6)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}

	if patch.Type != nil {
		add("type", string(*patch.Type))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.HoursNeeded != nil {
		add("hours_needed", *patch.HoursNeeded)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.DateTime != nil {
		add("date_time", *patch.DateTime)
	}
	if patch.AcceptedBy != nil {
		add("accepted_by", nullString(*patch.AcceptedBy))
	}
	sets = append(sets, "updated_at = NOW()")
	return sets, args
}

// ================= Notifications =================

// missedUpdate explains a conditional update that matched no row.
func (db *PostgresDatabase) missedUpdate(ctx context.Context, id string) error {
	var exists bool
	if err := db.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check post: %w", err)
	}
	if !exists {
		return fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("post %s: %w", id, ErrPreconditionFailed)
}

// CreateNotification inserts n with status new.
func (db *PostgresDatabase) CreateNotification(ctx context.Context, n *models.Notification) error {
	n.Status = models.NotificationNew
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, post_id, message, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, n.UserID, nullString(n.PostID), n.Message, string(n.Status)).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the recipient's notifications, newest first.
func (db *PostgresDatabase) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	if !validID(userID) {
		return []models.Notification{}, nil
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, post_id, message, status, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		var postID sql.NullString
		var status string
		if err := rows.Scan(&n.ID, &n.UserID, &postID, &n.Message, &status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.PostID = postID.String
		n.Status = models.NotificationStatus(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationSeen flips one of the recipient's notifications to seen.
func (db *PostgresDatabase) MarkNotificationSeen(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'seen' WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsSeen flips every new notification of the recipient.
func (db *PostgresDatabase) MarkAllNotificationsSeen(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'seen' WHERE user_id = $1 AND status = 'new'`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count updated notifications: %w", err)
	}
	return int(n), nil
}

// CountUnseenNotifications counts the recipient's new notifications.
func (db *PostgresDatabase) CountUnseenNotifications(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND status = 'new'`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// HealthCheck pings the database.
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the pool.
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// validID reports whether id can be a row id; malformed ids cannot match.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

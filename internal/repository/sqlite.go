package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// SQLStore implements Store on database/sql. SQLite (mattn/go-sqlite3) and
// PostgreSQL (lib/pq) are supported; queries are written with '?'
// placeholders and rebound for postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	return NewStore("sqlite3", dsn)
}

// NewStore opens the database for driver ("sqlite3" or "postgres") and runs migrations.
func NewStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite allows one writer at a time. A single connection serializes
		// the append transactions and keeps in-memory databases from
		// splitting across connections.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLStore) migrate() error {
	timestamp := "TIMESTAMP"
	if s.driver == "postgres" {
		timestamp = "TIMESTAMPTZ"
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			owner_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at ` + timestamp + ` NOT NULL,
			updated_at ` + timestamp + ` NOT NULL,
			PRIMARY KEY (owner_id, conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			owner_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at ` + timestamp + ` NOT NULL,
			PRIMARY KEY (owner_id, conversation_id, seq),
			FOREIGN KEY (owner_id, conversation_id) REFERENCES conversations(owner_id, conversation_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'approved',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			otp_code TEXT,
			otp_expires_at ` + timestamp + `,
			approval_token TEXT,
			rejection_token TEXT,
			created_at ` + timestamp + ` NOT NULL,
			updated_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_approval_token ON users(approval_token)`,
		`CREATE INDEX IF NOT EXISTS idx_users_rejection_token ON users(rejection_token)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts '?' placeholders to the driver's syntax.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ListConversations returns the owner's conversations, most recently updated first.
func (s *SQLStore) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT conversation_id, title, created_at, updated_at FROM conversations
		 WHERE owner_id = ? ORDER BY updated_at DESC, conversation_id`), ownerID)
	if err != nil {
		return nil, &domain.StoreError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	summaries := []domain.ConversationSummary{}
	for rows.Next() {
		var c domain.ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, &domain.StoreError{Op: "list conversations", Err: err}
		}
		summaries = append(summaries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "list conversations", Err: err}
	}
	return summaries, nil
}

// CreateConversation always creates a new conversation with a fresh id.
func (s *SQLStore) CreateConversation(ctx context.Context, ownerID, title string) (*domain.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = domain.DefaultConversationTitle
	}
	now := time.Now().UTC()
	conv := &domain.Conversation{
		OwnerID:        ownerID,
		ConversationID: uuid.New().String(),
		Title:          title,
		Messages:       []domain.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (owner_id, conversation_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
		conv.OwnerID, conv.ConversationID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, &domain.StoreError{Op: "create conversation", Err: err}
	}
	return conv, nil
}

// GetConversation loads a conversation with its messages in append order.
func (s *SQLStore) GetConversation(ctx context.Context, ownerID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.getConversation(ctx, s.db, ownerID, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.StoreError{Op: "get conversation", Err: err}
	}
	return conv, nil
}

func (s *SQLStore) getConversation(ctx context.Context, q queryer, ownerID, conversationID string) (*domain.Conversation, error) {
	conv := domain.Conversation{OwnerID: ownerID, ConversationID: conversationID}
	err := q.QueryRowContext(ctx, s.rebind(
		`SELECT title, created_at, updated_at FROM conversations WHERE owner_id = ? AND conversation_id = ?`),
		ownerID, conversationID).Scan(&conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT role, content, created_at FROM messages WHERE owner_id = ? AND conversation_id = ? ORDER BY seq`),
		ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv.Messages = []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage upserts the conversation shell and appends msg atomically.
func (s *SQLStore) AppendMessage(ctx context.Context, ownerID, conversationID string, msg domain.Message) (*domain.Conversation, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}
	defer tx.Rollback()

	// Upserting first takes the row lock (postgres) or the write lock
	// (sqlite) before the next sequence number is read.
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (owner_id, conversation_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, conversation_id) DO UPDATE SET updated_at = excluded.updated_at`),
		ownerID, conversationID, domain.DefaultConversationTitle, now, now); err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE owner_id = ? AND conversation_id = ?`),
		ownerID, conversationID).Scan(&seq); err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO messages (owner_id, conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		ownerID, conversationID, seq, string(msg.Role), msg.Content, msg.Timestamp.UTC()); err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}

	conv, err := s.getConversation(ctx, tx, ownerID, conversationID)
	if err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &domain.StoreError{Op: "append message", Err: err}
	}
	return conv, nil
}

// UpdateTitle renames a conversation.
func (s *SQLStore) UpdateTitle(ctx context.Context, ownerID, conversationID, title string) (*domain.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.NewValidationError("Title is required")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET title = ? WHERE owner_id = ? AND conversation_id = ?`),
		title, ownerID, conversationID)
	if err != nil {
		return nil, &domain.StoreError{Op: "update title", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetConversation(ctx, ownerID, conversationID)
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLStore) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Op: "delete conversation", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM messages WHERE owner_id = ? AND conversation_id = ?`), ownerID, conversationID); err != nil {
		return &domain.StoreError{Op: "delete conversation", Err: err}
	}
	res, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM conversations WHERE owner_id = ? AND conversation_id = ?`), ownerID, conversationID)
	if err != nil {
		return &domain.StoreError{Op: "delete conversation", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StoreError{Op: "delete conversation", Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return &domain.StoreError{Op: "delete conversation", Err: err}
	}
	return nil
}

const userColumns = `id, name, username, email, password_hash, role, status, verified,
	otp_code, otp_expires_at, approval_token, rejection_token, created_at, updated_at`

// CreateUser inserts a new account. Duplicate email or username yields domain.ErrConflict.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Name, user.Username, user.Email, user.PasswordHash, string(user.Role), string(user.Status), user.Verified,
		nullString(user.OTPCode), nullTime(user.OTPExpiresAt), nullString(user.ApprovalToken), nullString(user.RejectionToken),
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return &domain.StoreError{Op: "create user", Err: err}
	}
	return nil
}

// UpdateUser writes every mutable column of user.
func (s *SQLStore) UpdateUser(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET name = ?, username = ?, email = ?, password_hash = ?, role = ?, status = ?, verified = ?,
		 otp_code = ?, otp_expires_at = ?, approval_token = ?, rejection_token = ?, updated_at = ?
		 WHERE id = ?`),
		user.Name, user.Username, user.Email, user.PasswordHash, string(user.Role), string(user.Status), user.Verified,
		nullString(user.OTPCode), nullTime(user.OTPExpiresAt), nullString(user.ApprovalToken), nullString(user.RejectionToken),
		user.UpdatedAt, user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return &domain.StoreError{Op: "update user", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetUserByID retrieves an account by id.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByIDAndRole retrieves an account only if it holds role.
func (s *SQLStore) GetUserByIDAndRole(ctx context.Context, id string, role domain.AccountRole) (*domain.User, error) {
	return s.getUser(ctx, "id = ? AND role = ?", id, string(role))
}

// GetUserByEmail retrieves an account by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// GetUserByApprovalToken retrieves the account awaiting approval with token.
func (s *SQLStore) GetUserByApprovalToken(ctx context.Context, token string) (*domain.User, error) {
	return s.getUser(ctx, "approval_token = ?", token)
}

// GetUserByRejectionToken retrieves the account awaiting approval with the rejection token.
func (s *SQLStore) GetUserByRejectionToken(ctx context.Context, token string) (*domain.User, error) {
	return s.getUser(ctx, "rejection_token = ?", token)
}

// UserExists reports whether an account uses email or username.
func (s *SQLStore) UserExists(ctx context.Context, email, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM users WHERE email = ? OR username = ?`), email, username).Scan(&n)
	if err != nil {
		return false, &domain.StoreError{Op: "user exists", Err: err}
	}
	return n > 0, nil
}

func (s *SQLStore) getUser(ctx context.Context, where string, args ...interface{}) (*domain.User, error) {
	var u domain.User
	var role, status string
	var otpCode, approval, rejection sql.NullString
	var otpExpires sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE `+where), args...).Scan(
		&u.ID, &u.Name, &u.Username, &u.Email, &u.PasswordHash, &role, &status, &u.Verified,
		&otpCode, &otpExpires, &approval, &rejection, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get user", Err: err}
	}
	u.Role = domain.AccountRole(role)
	u.Status = domain.AccountStatus(status)
	u.OTPCode = otpCode.String
	u.ApprovalToken = approval.String
	u.RejectionToken = rejection.String
	if otpExpires.Valid {
		t := otpExpires.Time
		u.OTPExpiresAt = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

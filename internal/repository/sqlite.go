package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/xiaot623/teamdesk/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'employee',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY,
			participant_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (chat_id, user_id),
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			ts DATETIME NOT NULL,
			UNIQUE (chat_id, seq),
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date DATETIME,
			done INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_assignees (
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (task_id, user_id),
			FOREIGN KEY (task_id) REFERENCES tasks(task_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser inserts or replaces a user projection.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, name, email, role, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role, enabled = excluded.enabled`,
		user.ID, user.Name, user.Email, string(user.Role), user.Enabled, user.CreatedAt)
	return err
}

const userColumns = `user_id, name, email, role, enabled, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Enabled, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return u, err
}

// GetUsers retrieves the users that exist among userIDs.
func (s *SQLiteStore) GetUsers(ctx context.Context, userIDs []string) ([]domain.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return s.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY name`,
		args...)
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CreateChat persists a new chat with its participants.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.ParticipantKey == "" {
		chat.ParticipantKey = domain.ParticipantKey(chat.Participants)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (chat_id, participant_key, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.ParticipantKey, chat.CreatedAt, chat.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	for i, userID := range chat.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, position) VALUES (?, ?, ?)`,
			chat.ID, userID, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChat retrieves a chat with its participants and messages.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	return s.loadChat(ctx, `SELECT chat_id, participant_key, created_at, updated_at FROM chats WHERE chat_id = ?`, chatID)
}

// FindChatByParticipantKey retrieves the chat whose participant set matches key.
func (s *SQLiteStore) FindChatByParticipantKey(ctx context.Context, key string) (*domain.Chat, error) {
	return s.loadChat(ctx, `SELECT chat_id, participant_key, created_at, updated_at FROM chats WHERE participant_key = ?`, key)
}

func (s *SQLiteStore) loadChat(ctx context.Context, query string, arg string) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&chat.ID, &chat.ParticipantKey, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.fillChat(ctx, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) fillChat(ctx context.Context, chat *domain.Chat) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY position`, chat.ID)
	if err != nil {
		return err
	}
	chat.Participants = nil
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return err
		}
		chat.Participants = append(chat.Participants, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	msgs, err := s.queryMessages(ctx, chat.ID, -1, 0)
	if err != nil {
		return err
	}
	chat.Messages = msgs
	return nil
}

// ListChatsForUser returns the chats userID participates in, newest-updated first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.chat_id, c.participant_key, c.created_at, c.updated_at
		 FROM chats c JOIN chat_participants p ON p.chat_id = c.chat_id
		 WHERE p.user_id = ? ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	var chats []domain.Chat
	for rows.Next() {
		var chat domain.Chat
		if err := rows.Scan(&chat.ID, &chat.ParticipantKey, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		chats = append(chats, chat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if err := s.fillChat(ctx, &chats[i]); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// AppendMessage inserts msg with the next sequence number in a single transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE chat_id = ?`, msg.Timestamp, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, chat_id, seq, sender_id, content, ts)
		 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM chat_messages WHERE chat_id = ?`,
		msg.ID, chatID, msg.SenderID, msg.Content, msg.Timestamp, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns a window of a chat's messages in persistence order and
// the total message count.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]domain.Message, int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE chat_id = ?`, chatID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, domain.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if skip < 0 {
		skip = 0
	}
	msgs, err := s.queryMessages(ctx, chatID, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, chatID string, limit, skip int) ([]domain.Message, error) {
	query := `SELECT message_id, sender_id, content, ts FROM chat_messages WHERE chat_id = ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, skip)
	} else if skip > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	}
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CreateTask persists a new task with its assignees.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, title, description, due_date, done, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, nullTime(task.DueDate), task.Done, task.CreatedBy, task.CreatedAt, task.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	if err := replaceAssignees(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTask retrieves a task with its assignees.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	var due sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, title, description, due_date, done, created_by, created_at, updated_at FROM tasks WHERE task_id = ?`,
		taskID).Scan(&task.ID, &task.Title, &task.Description, &due, &task.Done, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if due.Valid {
		task.DueDate = &due.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM task_assignees WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	task.Assignees = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		task.Assignees = append(task.Assignees, userID)
	}
	return &task, rows.Err()
}

// UpdateTask overwrites the task record and its assignee list.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, due_date = ?, done = ?, updated_at = ? WHERE task_id = ?`,
		task.Title, task.Description, nullTime(task.DueDate), task.Done, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if err := replaceAssignees(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceAssignees(ctx context.Context, tx *sql.Tx, task *domain.Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, task.ID); err != nil {
		return err
	}
	for i, userID := range task.Assignees {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_assignees (task_id, user_id, position) VALUES (?, ?, ?)`,
			task.ID, userID, i); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/relaychat/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrConversationNotFound is returned by mutations addressed to a missing conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes read-modify-write cycles on conversation rows
	now     func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		response_id TEXT,
		vector_store_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateConversation inserts a new conversation with its first message.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string, first domain.Message) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	messagesJSON, err := json.Marshal([]domain.Message{first})
	if err != nil {
		return 0, fmt.Errorf("marshal messages: %w", err)
	}

	// Keep updated_at strictly increasing across records so listing order is
	// stable even when two creates land within the clock's resolution.
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM conversations`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("read latest update: %w", err)
	}
	now := s.now()
	if latest.Valid {
		now = domain.NextUpdate(time.Unix(0, latest.Int64), now)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (title, messages_json, response_id, vector_store_id, created_at, updated_at)
		VALUES (?, ?, NULL, NULL, ?, ?)`,
		title, string(messagesJSON), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted id: %w", err)
	}
	return id, nil
}

// AppendMessage appends msg to the conversation's message list.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id int64, msg domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back append", "conversation_id", id, "error", rbErr)
		}
	}()

	var messagesJSON string
	var updatedAt int64
	err = tx.QueryRowContext(ctx, `SELECT messages_json, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&messagesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append to %d: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return fmt.Errorf("read messages: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	messages = append(messages, msg)

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	next := s.nextUpdate(ctx, tx, updatedAt)
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET messages_json = ?, updated_at = ? WHERE id = ?`,
		string(data), next.UnixNano(), id,
	); err != nil {
		return fmt.Errorf("update messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// UpdateMetadata records the response handle, and the document index when one
// is given, for a conversation.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id int64, responseID *string, vectorStoreID *string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM conversations WHERE id = ?`, id).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update metadata of %d: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return fmt.Errorf("read conversation: %w", err)
	}

	var respArg, vsArg interface{}
	if responseID != nil {
		respArg = *responseID
	}
	if vectorStoreID != nil {
		vsArg = *vectorStoreID
	}

	next := s.nextUpdate(ctx, s.db, updatedAt)
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET
			response_id = ?,
			vector_store_id = COALESCE(?, vector_store_id),
			updated_at = ?
		WHERE id = ?`,
		respArg, vsArg, next.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// ClearDocumentIndex drops the stored document index handle.
func (s *SQLiteStore) ClearDocumentIndex(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM conversations WHERE id = ?`, id).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("clear document index of %d: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return fmt.Errorf("read conversation: %w", err)
	}

	next := s.nextUpdate(ctx, s.db, updatedAt)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET vector_store_id = NULL, updated_at = ? WHERE id = ?`,
		next.UnixNano(), id,
	); err != nil {
		return fmt.Errorf("clear document index: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// nextUpdate picks an update timestamp after both the record's own and the
// newest timestamp in the table.
func (s *SQLiteStore) nextUpdate(ctx context.Context, q queryRower, own int64) time.Time {
	prev := own
	var latest sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM conversations`).Scan(&latest); err != nil {
		slog.Debug("failed to read latest update time", "error", err)
	} else if latest.Valid && latest.Int64 > prev {
		prev = latest.Int64
	}
	return domain.NextUpdate(time.Unix(0, prev), s.now())
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, messages_json, response_id, vector_store_id, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ListConversations returns all conversations ordered by last update, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, messages_json, response_id, vector_store_id, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var messagesJSON string
	var responseID, vectorStoreID sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(
		&conv.ID, &conv.Title, &messagesJSON,
		&responseID, &vectorStoreID,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %d: %w", conv.ID, err)
	}
	conv.ResponseID = domain.StringPtr(responseID.String)
	conv.VectorStoreID = domain.StringPtr(vectorStoreID.String)
	conv.CreatedAt = time.Unix(0, createdAt)
	conv.UpdatedAt = time.Unix(0, updatedAt)
	return &conv, nil
}

// GetSetting returns a client setting.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting creates or replaces a client setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a client setting.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)

package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mediinterpret/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConsultationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the handle so the attachment index can share the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) CreateConsultation(ctx context.Context, c domain.Consultation) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO consultations (id, type, channel, title, provider, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Type), c.Channel, c.Title, c.Provider, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetConsultation(ctx context.Context, id string) (*domain.Consultation, error) {
	var c domain.Consultation
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, channel, title, provider, created_at, updated_at FROM consultations WHERE id = ?`, id,
	).Scan(&c.ID, &typ, &c.Channel, &c.Title, &c.Provider, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Type = domain.ConsultationType(typ)
	return &c, nil
}

func (s *SQLiteStore) ListConsultations(ctx context.Context, limit int) ([]domain.Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, channel, title, provider, created_at, updated_at
		 FROM consultations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Consultation
	for rows.Next() {
		var c domain.Consultation
		var typ string
		if err := rows.Scan(&c.ID, &typ, &c.Channel, &c.Title, &c.Provider, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Type = domain.ConsultationType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConsultation rewrites the title and provider of a consultation.
func (s *SQLiteStore) UpdateConsultation(ctx context.Context, c domain.Consultation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consultations SET title = ?, provider = ?, updated_at = ? WHERE id = ?`,
		c.Title, c.Provider, time.Now(), c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TouchConsultation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE consultations SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// DeleteConsultation removes a consultation and its messages.
func (s *SQLiteStore) DeleteConsultation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE consultation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM consultations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) AddMessage(ctx context.Context, consultationID string, msg domain.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	var attID, attMime, attName string
	if msg.Attachment != nil {
		attID, attMime, attName = msg.Attachment.ID, msg.Attachment.MimeType, msg.Attachment.Name
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, consultation_id, role, text, is_error, attachment_id, attachment_mime, attachment_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, consultationID, string(msg.Role), msg.Text, msg.IsError, attID, attMime, attName, msg.Timestamp,
	)
	if err != nil {
		return err
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE consultations SET updated_at = ? WHERE id = ?`, time.Now(), consultationID,
	)
	return nil
}

// UpdateMessage rewrites the text and error flag of a stored message.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg domain.Message) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, is_error = ? WHERE id = ?`,
		msg.Text, msg.IsError, msg.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// GetMessages returns the last limit messages, oldest first. Attachment data
// is not loaded; only its id, name and MIME type.
func (s *SQLiteStore) GetMessages(ctx context.Context, consultationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, is_error, attachment_id, attachment_mime, attachment_name, created_at
		 FROM messages WHERE consultation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, consultationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var attID, attMime, attName sql.NullString
		if err := rows.Scan(&m.ID, &role, &m.Text, &m.IsError, &attID, &attMime, &attName, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if attID.String != "" || attMime.String != "" {
			m.Attachment = &domain.Attachment{ID: attID.String, MimeType: attMime.String, Name: attName.String}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Prune deletes consultations not updated since before, with their messages.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE consultation_id IN (SELECT id FROM consultations WHERE updated_at < ?)`, before,
	); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM consultations WHERE updated_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune consultations: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned old consultations", "count", n, "before", before.Format(time.DateOnly))
	}
	return n, nil
}

// Stats summarises the store for the status command.
type Stats struct {
	Consultations int64 `json:"consultations"`
	Messages      int64 `json:"messages"`
	Attachments   int64 `json:"attachments"`
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM consultations), (SELECT COUNT(*) FROM messages), (SELECT COUNT(*) FROM attachments)`,
	).Scan(&st.Consultations, &st.Messages, &st.Attachments)
	return st, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

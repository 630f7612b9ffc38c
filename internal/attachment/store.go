package attachment

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mediinterpret/internal/domain"
)

// StoreConfig configures the attachment store.
type StoreConfig struct {
	Dir    string // base directory for attachment files
	DB     *sql.DB
	Logger *slog.Logger
}

// Store writes attachment bytes to disk and indexes them in the
// consultation database.
type Store struct {
	dir    string
	db     *sql.DB
	logger *slog.Logger
}

// Info describes a stored attachment without its contents.
type Info struct {
	ID             string
	ConsultationID string
	Filename       string
	MimeType       string
	Size           int64
	StoragePath    string
	CreatedAt      time.Time
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("attachment store requires a database")
	}
	dir := cfg.Dir
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".mediinterpret", "attachments")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create attachment storage: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, db: cfg.DB, logger: logger}, nil
}

// Save decodes att and writes it under the store directory. att.ID is
// assigned when empty.
func (s *Store) Save(ctx context.Context, consultationID string, att *domain.Attachment) error {
	data, err := Decode(att)
	if err != nil {
		return err
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}

	path := filepath.Join(s.dir, att.ID+Extension(att.MimeType))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attachments (id, consultation_id, filename, mime_type, size, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		att.ID, consultationID, att.Name, att.MimeType, len(data), path, time.Now(),
	)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("record attachment: %w", err)
	}

	s.logger.Debug("attachment stored",
		"id", att.ID,
		"consultation", consultationID,
		"size", len(data),
		"mime_type", att.MimeType,
	)
	return nil
}

// Load returns the attachment with its base64 data.
func (s *Store) Load(ctx context.Context, id string) (*domain.Attachment, error) {
	info, err := s.info(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(info.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &domain.Attachment{
		ID:       info.ID,
		Name:     info.Filename,
		MimeType: info.MimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Open returns the raw file and its metadata for streaming downloads. The
// caller closes the file.
func (s *Store) Open(ctx context.Context, id string) (*os.File, *Info, error) {
	info, err := s.info(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(info.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, domain.ErrNotFound
	}
	return f, info, err
}

func (s *Store) info(ctx context.Context, id string) (*Info, error) {
	var a Info
	err := s.db.QueryRowContext(ctx,
		`SELECT id, consultation_id, filename, mime_type, size, storage_path, created_at
		 FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.ConsultationID, &a.Filename, &a.MimeType, &a.Size, &a.StoragePath, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns all attachments for a consultation, newest first.
func (s *Store) List(ctx context.Context, consultationID string) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, consultation_id, filename, mime_type, size, storage_path, created_at
		 FROM attachments WHERE consultation_id = ? ORDER BY created_at DESC`,
		consultationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var a Info
		if err := rows.Scan(&a.ID, &a.ConsultationID, &a.Filename, &a.MimeType, &a.Size, &a.StoragePath, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteConsultation removes every attachment of a consultation.
func (s *Store) DeleteConsultation(ctx context.Context, consultationID string) error {
	infos, err := s.List(ctx, consultationID)
	if err != nil {
		return err
	}
	return s.remove(ctx, infos)
}

// Prune removes attachments whose consultation no longer exists or that
// are older than before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, consultation_id, filename, mime_type, size, storage_path, created_at
		 FROM attachments
		 WHERE created_at < ? OR consultation_id NOT IN (SELECT id FROM consultations)`, before,
	)
	if err != nil {
		return 0, err
	}
	var infos []Info
	for rows.Next() {
		var a Info
		if err := rows.Scan(&a.ID, &a.ConsultationID, &a.Filename, &a.MimeType, &a.Size, &a.StoragePath, &a.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		infos = append(infos, a)
	}
	rows.Close()

	if err := s.remove(ctx, infos); err != nil {
		return 0, err
	}
	if len(infos) > 0 {
		s.logger.Info("pruned attachments", "count", len(infos))
	}
	return len(infos), nil
}

func (s *Store) remove(ctx context.Context, infos []Info) error {
	for _, a := range infos {
		if err := os.Remove(a.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove attachment file", "path", a.StoragePath, "err", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, a.ID); err != nil {
			return fmt.Errorf("delete attachment %s: %w", a.ID, err)
		}
	}
	return nil
}

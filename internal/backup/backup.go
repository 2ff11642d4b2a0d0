// Package backup encrypts the SQLite database and ships it to S3-compatible
// storage on a daily schedule. Archives are encrypted client side with a key
// derived from a passphrase, so the storage provider only ever sees
// ciphertext.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"taskpoints/internal/model"
	"taskpoints/internal/store"
)

// State describes what the backup subsystem is currently doing.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status is a snapshot of the backup subsystem for dashboards.
type Status struct {
	State      State     `json:"state"`
	LastRun    time.Time `json:"last_run,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	InProgress bool      `json:"in_progress"`
}

// StatusCallback receives status transitions, used to push updates to
// connected dashboards.
type StatusCallback func(Status)

// S3Config holds credentials for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) valid() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config drives the backup manager. Backups are disabled unless both the S3
// credentials and the passphrase are set.
type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	Hour          int // local hour of day to run the daily backup
	RetentionDays int
}

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Manager runs scheduled encrypted backups and restores.
type Manager struct {
	cfg     Config
	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger
	cb      StatusCallback

	mu      sync.Mutex
	status  Status
	lastDay string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds a manager. db and backups may be nil in tests that only
// exercise state transitions.
func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, logger *slog.Logger, cb StatusCallback) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		cfg:     cfg,
		db:      db,
		backups: backups,
		logger:  logger,
		cb:      cb,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.S3.valid() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status = Status{State: StateIdle}
	} else {
		m.status = Status{State: StateDisabled}
	}
	return m
}

func newS3Client(cfg S3Config) s3Client {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	cb := m.cb
	m.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Start launches the scheduling loop. It is a no-op when backups are
// disabled.
func (m *Manager) Start(ctx context.Context) {
	if m.Status().State == StateDisabled {
		close(m.done)
		return
	}
	go m.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		}
	}
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	if now.Hour() != m.cfg.Hour {
		return
	}
	day := now.Format("2006-01-02")
	m.mu.Lock()
	already := m.lastDay == day
	if !already {
		m.lastDay = day
	}
	m.mu.Unlock()
	if already {
		return
	}

	if err := m.RunBackup(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunBackup checkpoints the database, encrypts a copy and uploads it.
func (m *Manager) RunBackup(ctx context.Context) error {
	if m.Status().State == StateDisabled {
		return fmt.Errorf("backups are disabled")
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	err := m.runBackup(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, LastRun: time.Now(), LastError: err.Error()})
		return err
	}
	m.setStatus(Status{State: StateIdle, LastRun: time.Now()})
	return nil
}

func (m *Manager) runBackup(ctx context.Context) error {
	filename := fmt.Sprintf("taskpoints-%s.db.enc", time.Now().UTC().Format("2006-01-02T150405Z"))
	s3Key := "backups/" + filename

	record, err := m.backups.Create(ctx, filename, s3Key)
	if err != nil {
		return fmt.Errorf("create backup record: %w", err)
	}

	fail := func(err error) error {
		if uerr := m.backups.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "id", record.ID, "error", uerr)
		}
		return err
	}

	if err := m.backups.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		return fmt.Errorf("mark backup uploading: %w", err)
	}

	// Flush the WAL so the main database file is complete on its own.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fail(fmt.Errorf("wal checkpoint: %w", err))
	}

	tmpDir, err := os.MkdirTemp("", "taskpoints-backup-*")
	if err != nil {
		return fail(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "snapshot.db")
	if err := copyFile(m.cfg.DBPath, plainPath); err != nil {
		return fail(fmt.Errorf("copy database: %w", err))
	}

	salt, err := GenerateSalt()
	if err != nil {
		return fail(fmt.Errorf("generate salt: %w", err))
	}
	encPath := filepath.Join(tmpDir, filename)
	if err := EncryptFile(plainPath, encPath, m.cfg.Passphrase, salt); err != nil {
		return fail(fmt.Errorf("encrypt database: %w", err))
	}

	f, err := os.Open(encPath)
	if err != nil {
		return fail(fmt.Errorf("open encrypted file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat encrypted file: %w", err))
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(s3Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fail(fmt.Errorf("upload backup: %w", err))
	}

	if err := m.backups.UpdateCompleted(ctx, record.ID, info.Size()); err != nil {
		return fmt.Errorf("mark backup completed: %w", err)
	}

	m.logger.Info("backup uploaded", "key", s3Key, "bytes", info.Size())
	return nil
}

// Cleanup removes archives older than the retention window, both from S3 and
// from the local record.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.backups.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire backup records: %w", err)
	}
	for _, key := range keys {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			m.logger.Error("delete remote backup", "key", key, "error", err)
			continue
		}
		m.logger.Info("deleted expired backup", "key", key)
	}
	return nil
}

// Restore downloads and decrypts the given archive, verifies it, and swaps
// it in over the live database file. On success the process exits so the
// supervisor restarts it against the restored file.
func (m *Manager) Restore(ctx context.Context, backupID int64) error {
	if m.Status().State == StateDisabled {
		return fmt.Errorf("backups are disabled")
	}

	record, err := m.backups.GetByID(ctx, backupID)
	if err != nil {
		return fmt.Errorf("get backup record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("backup %d not found", backupID)
	}
	if record.Status != model.BackupStatusCompleted {
		return fmt.Errorf("backup %d is %s, not completed", backupID, record.Status)
	}

	tmpDir, err := os.MkdirTemp("", "taskpoints-restore-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	encPath := filepath.Join(tmpDir, "archive.db.enc")
	if err := m.download(ctx, record.S3Key, encPath); err != nil {
		return err
	}

	plainPath := filepath.Join(tmpDir, "restored.db")
	if err := DecryptFile(encPath, plainPath, m.cfg.Passphrase); err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	if err := verifyDatabase(plainPath); err != nil {
		return fmt.Errorf("restored database failed verification: %w", err)
	}

	// Close the live handle before replacing the file under it.
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	if err := copyFile(plainPath, m.cfg.DBPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(m.cfg.DBPath + "-wal")
	os.Remove(m.cfg.DBPath + "-shm")

	m.logger.Info("database restored, exiting for restart", "backup_id", backupID)
	os.Exit(0)
	return nil
}

func (m *Manager) download(ctx context.Context, key, destPath string) error {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download backup: %w", err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("write download file: %w", err)
	}
	return nil
}

func verifyDatabase(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

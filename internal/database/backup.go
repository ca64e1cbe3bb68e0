package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"partnerqueue/internal/config"
)

// BackupSources returns the databases to snapshot, keyed by a file-name-safe label.
type BackupSources func(ctx context.Context) (map[string]string, error)

// BackupService periodically snapshots the master catalog and every tenant database.
type BackupService struct {
	sources BackupSources
	config  config.BackupConfig
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewBackupService(sources BackupSources, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		sources: sources,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Failed to parse backup schedule, using default 24h")
		}
	}
	s.logger.Info().Dur("interval", interval).Str("path", s.config.StoragePath).Msg("Backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes one snapshot per source and returns the created files.
// A failing source does not stop the others.
func (s *BackupService) PerformBackup(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	sources, err := s.sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backup sources: %w", err)
	}
	labels := make([]string, 0, len(sources))
	for label := range sources {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	timestamp := s.now().Format("20060102_150405")
	var (
		created []string
		errs    []error
	)
	for _, label := range labels {
		src := sources[label]
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			// tenant never opened, nothing on disk yet
			continue
		}
		dst := filepath.Join(s.config.StoragePath, fmt.Sprintf("%s_%s.db", strings.ToLower(label), timestamp))
		if err := s.snapshot(ctx, src, dst); err != nil {
			errs = append(errs, fmt.Errorf("backup %s: %w", label, err))
			continue
		}
		created = append(created, dst)
	}

	s.logger.Info().Int("files", len(created)).Int("failed", len(errs)).Msg("Backup round completed")
	return created, errors.Join(errs...)
}

func (s *BackupService) snapshot(ctx context.Context, src, dst string) error {
	db, err := sql.Open(driverName, src)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	quoted := strings.ReplaceAll(dst, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		s.logger.Warn().Err(err).Str("source", src).Msg("VACUUM INTO failed, falling back to file copy")
		return s.performBackupFallback(src, dst)
	}
	return nil
}

func (s *BackupService) performBackupFallback(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	// io.Copy is not atomic for SQLite; concurrent writes can leave a torn copy
	_, err = io.Copy(destination, source)
	return err
}

func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".db" {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			_ = os.Remove(filepath.Join(s.config.StoragePath, file.Name()))
		}
	}
}

package archive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const keyPrefix = "journal-backup-"

// Service creates gzip snapshots of the journal database and manages
// their lifecycle in the object store.
type Service struct {
	client *Client
	log    zerolog.Logger
}

// NewService builds a Service around an already-constructed Client.
func NewService(client *Client, log zerolog.Logger) *Service {
	return &Service{client: client, log: log.With().Str("component", "journal-archive-service").Logger()}
}

// CreateAndUpload gzips the journal database at dbPath and uploads it
// under a timestamped key. The source file is read, not locked — callers
// should invoke this from the same maintenance window as a prune so the
// snapshot reflects what was retained.
func (s *Service) CreateAndUpload(ctx context.Context, dbPath string) error {
	start := time.Now()

	src, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("archive: open journal db: %w", err)
	}
	defer src.Close()

	pr, pw := os.Pipe()
	defer pr.Close()

	gzErrCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		gz := gzip.NewWriter(pw)
		_, copyErr := io.Copy(gz, src)
		closeErr := gz.Close()
		if copyErr != nil {
			gzErrCh <- copyErr
			return
		}
		gzErrCh <- closeErr
	}()

	key := keyPrefix + time.Now().UTC().Format("2006-01-02-150405") + ".db.gz"
	if err := s.client.Upload(ctx, key, pr); err != nil {
		<-gzErrCh
		return err
	}
	if err := <-gzErrCh; err != nil {
		return fmt.Errorf("archive: compress journal db: %w", err)
	}

	s.log.Info().Str("key", key).Dur("duration", time.Since(start)).Msg("journal archive uploaded")
	return nil
}

// RotateOld deletes archived snapshots older than retentionDays,
// always keeping at least minBackupsToKeep regardless of age.
func (s *Service) RotateOld(ctx context.Context, retentionDays int) error {
	const minBackupsToKeep = 3

	objects, err := s.client.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("archive: list for rotation: %w", err)
	}
	if len(objects) <= minBackupsToKeep || retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, obj := range objects {
		if i < minBackupsToKeep {
			continue
		}
		if obj.Timestamp.IsZero() || obj.Timestamp.After(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, obj.Key); err != nil {
			s.log.Error().Err(err).Str("key", obj.Key).Msg("failed to delete old archive")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(objects)-deleted).Msg("journal archive rotation complete")
	return nil
}

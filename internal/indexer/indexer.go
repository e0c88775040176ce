// Package indexer loads outbox metadata into the sqlite catalogue.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/index"
	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
)

type Config struct {
	OutboxDir string
}

type Indexer struct {
	DB      *index.DB
	Conf    Config
	Metrics interface {
		IncRun(scanned, indexed int)
		IncError()
		SetLastRunUnix(t float64)
	}
}

// RunOnce upserts one catalogue row per metadata file and, after a complete
// walk, drops rows whose files are gone. Rows are keyed by outbox id, so
// repeated runs are idempotent.
func (ix *Indexer) RunOnce(ctx context.Context) (scanned int, indexed int, err error) {
	outgoing := outbox.OutgoingDir(ix.Conf.OutboxDir)
	run := strconv.FormatInt(time.Now().UnixNano(), 36)
	defer func() {
		if ix.Metrics != nil {
			ix.Metrics.SetLastRunUnix(float64(time.Now().Unix()))
			if err != nil {
				ix.Metrics.IncError()
			} else {
				ix.Metrics.IncRun(scanned, indexed)
			}
		}
	}()
	walkErr := filepath.WalkDir(outgoing, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		scanned++

		m, _, err := outbox.ReadMeta(path)
		if err != nil {
			return err
		}
		rcptJSON, _ := json.Marshal(m.To)
		err = ix.DB.UpsertMessage(ctx, index.MessageRow{
			ID:         m.ID,
			TraceID:    m.TraceID,
			CreatedAt:  m.CreatedAt,
			Source:     m.Source,
			MailFrom:   m.From,
			RcptToJSON: string(rcptJSON),
			MessageID:  m.MessageID,
			Subject:    m.Subject,
			Format:     string(m.Format),
			Path:       filepath.Join(filepath.Dir(path), m.File),
			MetaPath:   path,
			Bytes:      m.Bytes,
			SHA256:     m.SHA256,
			ObjectKey:  m.ObjectKey,
			IndexedRun: run,
		})
		if err != nil {
			return fmt.Errorf("db upsert %s: %w", path, err)
		}
		indexed++
		return nil
	})
	if os.IsNotExist(walkErr) {
		return 0, 0, nil
	}
	if walkErr != nil {
		return scanned, indexed, walkErr
	}
	if _, err := ix.DB.PruneMessages(ctx, run); err != nil {
		return scanned, indexed, fmt.Errorf("prune: %w", err)
	}
	return scanned, indexed, nil
}

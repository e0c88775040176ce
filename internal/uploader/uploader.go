// Package uploader archives outbox messages to object storage and records the
// object key back into each metadata file.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
)

// Store is the object storage the uploader writes to; *objectstore.MinIO
// satisfies it.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType, sha256 string) error
	Stat(ctx context.Context, key string) (sha256 string, ok bool, err error)
}

type Config struct {
	OutboxDir string
	Now       func() time.Time
}

type Uploader struct {
	Obj     Store
	Conf    Config
	Metrics interface {
		IncRun(scanned, uploaded int)
		IncError()
		SetLastRunUnix(t float64)
	}
}

// RunOnce uploads every message whose metadata has no object key yet.
func (u *Uploader) RunOnce(ctx context.Context) (scanned int, uploaded int, err error) {
	outgoing := outbox.OutgoingDir(u.Conf.OutboxDir)
	now := u.Conf.Now
	if now == nil {
		now = time.Now
	}
	defer func() {
		if u.Metrics != nil {
			u.Metrics.SetLastRunUnix(float64(time.Now().Unix()))
			if err != nil {
				u.Metrics.IncError()
			} else {
				u.Metrics.IncRun(scanned, uploaded)
			}
		}
	}()

	walkErr := filepath.WalkDir(outgoing, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		scanned++

		m, raw, err := outbox.ReadMeta(path)
		if err != nil {
			return err
		}
		if m.ObjectKey != "" {
			return nil
		}
		key := objectKey(m)
		// An earlier run may have stored the object but died before the
		// metadata rewrite; a matching checksum means only the rewrite is left.
		sum, exists, err := u.Obj.Stat(ctx, key)
		if err != nil {
			return fmt.Errorf("stat object %s: %w", key, err)
		}
		if !exists || sum != m.SHA256 {
			if err := u.put(ctx, filepath.Join(filepath.Dir(path), m.File), key, m); err != nil {
				return err
			}
			uploaded++
		}

		// Unknown fields survive the rewrite.
		raw["object_key"] = key
		raw["uploaded_at"] = now().UTC().Format(time.RFC3339Nano)
		out, _ := json.MarshalIndent(raw, "", "  ")
		out = append(out, '\n')
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, out, 0o640); err != nil {
			return fmt.Errorf("write meta tmp %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("rename meta %s: %w", path, err)
		}
		return nil
	})
	if os.IsNotExist(walkErr) {
		return 0, 0, nil
	}
	if walkErr != nil {
		return scanned, uploaded, walkErr
	}
	return scanned, uploaded, nil
}

func (u *Uploader) put(ctx context.Context, file, key string, m outbox.Meta) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open message %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat message %s: %w", file, err)
	}
	if err := u.Obj.Put(ctx, key, f, fi.Size(), contentType(m.Format), m.SHA256); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func contentType(f outbox.Format) string {
	if f == outbox.FormatText {
		return "text/plain; charset=utf-8"
	}
	return "message/rfc822"
}

func objectKey(m outbox.Meta) string {
	ext := filepath.Ext(m.File)
	if ext == "" {
		ext = "." + string(outbox.FormatEML)
	}
	source := m.Source
	if source == "" {
		source = "unknown"
	}
	date := "unknown"
	if len(m.CreatedAt) >= 10 {
		date = m.CreatedAt[:10] // YYYY-MM-DD
	}
	parts := strings.Split(date, "-")
	if len(parts) == 3 {
		return fmt.Sprintf("%s/%s/%s/%s/%s%s", source, parts[0], parts[1], parts[2], m.ID, ext)
	}
	return fmt.Sprintf("%s/%s%s", source, m.ID, ext)
}

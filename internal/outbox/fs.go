// Package outbox serializes outgoing messages to the filesystem, one message
// file plus one JSON metadata file per send.
package outbox

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

var ErrTooLarge = errors.New("message too large")

// Format selects how the message file is written.
type Format string

const (
	// FormatEML writes the message exactly as submitted.
	FormatEML Format = "eml"
	// FormatText writes ordered headers and the text body only.
	FormatText Format = "txt"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatEML, "":
		return FormatEML, nil
	case FormatText, "text":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown outbox format %q", s)
}

type WriteRequest struct {
	MaxBytes  int64
	From      string
	To        []string
	Source    string
	CreatedAt time.Time
	TraceID   string
}

type WriteResult struct {
	ID       string
	TraceID  string
	Bytes    int64
	SHA256   string
	Path     string
	MetaPath string
}

// Meta is the JSON document written next to every message file.
type Meta struct {
	ID         string   `json:"id"`
	TraceID    string   `json:"trace_id"`
	CreatedAt  string   `json:"created_at"`
	Source     string   `json:"source"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	MessageID  string   `json:"message_id"`
	Subject    string   `json:"subject"`
	Format     Format   `json:"format"`
	File       string   `json:"file"`
	Bytes      int64    `json:"bytes"`
	SHA256     string   `json:"sha256"`
	ObjectKey  string   `json:"object_key,omitempty"`
	UploadedAt string   `json:"uploaded_at,omitempty"`
}

type FS struct {
	BaseDir string
	Format  Format
	Now     func() time.Time
}

// OutgoingDir is where message files live below base.
func OutgoingDir(base string) string { return filepath.Join(base, "outgoing") }

// Write stores raw. The message file is published with a rename, then the
// metadata file; readers that key off .json never see partial messages.
func (s *FS) Write(ctx context.Context, req WriteRequest, raw []byte) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if req.MaxBytes > 0 && int64(len(raw)) > req.MaxBytes {
		return WriteResult{}, ErrTooLarge
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := req.CreatedAt
	if ts.IsZero() {
		ts = now()
	}
	format := s.Format
	if format == "" {
		format = FormatEML
	}

	msg := message.FromBytes(raw)
	var payload []byte
	switch format {
	case FormatText:
		var buf bytes.Buffer
		if err := RenderText(&buf, msg); err != nil {
			return WriteResult{}, fmt.Errorf("render text: %w", err)
		}
		payload = buf.Bytes()
	default:
		payload = raw
	}

	id := NewID(ts)
	dateDir := filepath.Join(OutgoingDir(s.BaseDir), ts.Format("2006/01/02"))
	if err := os.MkdirAll(dateDir, 0o750); err != nil {
		return WriteResult{}, fmt.Errorf("mkdir %s: %w", dateDir, err)
	}

	// Reserve the final name; the rename below replaces the empty file.
	reserved, final, err := CreateFile(dateDir, id, string(format))
	if err != nil {
		return WriteResult{}, err
	}
	_ = reserved.Close()
	tmp := final + ".tmp"
	meta := strings.TrimSuffix(final, filepath.Ext(final)) + ".json"
	metaTmp := meta + ".tmp"

	written, sum, err := writeSynced(tmp, payload)
	if err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(final)
		return WriteResult{}, err
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = id
	}
	m := Meta{
		ID:        id,
		TraceID:   traceID,
		CreatedAt: ts.UTC().Format(time.RFC3339Nano),
		Source:    req.Source,
		From:      req.From,
		To:        req.To,
		Format:    format,
		File:      filepath.Base(final),
		Bytes:     written,
		SHA256:    sum,
	}
	m.MessageID, _ = msg.MessageID()
	m.Subject, _ = msg.Subject()
	metaBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(final)
		return WriteResult{}, fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(metaTmp, metaBytes, 0o640); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(final)
		return WriteResult{}, fmt.Errorf("write meta: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(final)
		_ = os.Remove(metaTmp)
		return WriteResult{}, fmt.Errorf("rename message: %w", err)
	}
	if err := os.Rename(metaTmp, meta); err != nil {
		// The message file stays; an operator can reconcile it.
		_ = os.Remove(metaTmp)
		return WriteResult{}, fmt.Errorf("rename meta: %w", err)
	}

	return WriteResult{
		ID:       id,
		TraceID:  traceID,
		Bytes:    written,
		SHA256:   sum,
		Path:     final,
		MetaPath: meta,
	}, nil
}

func writeSynced(path string, payload []byte) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, "", fmt.Errorf("create tmp: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	bw := bufio.NewWriterSize(f, 32*1024)
	n, err := io.Copy(io.MultiWriter(bw, h), bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("copy: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return 0, "", fmt.Errorf("flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("close: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// ReadMeta loads a metadata file.
func ReadMeta(path string) (Meta, map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("read meta %s: %w", path, err)
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, nil, fmt.Errorf("parse meta %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return Meta{}, nil, fmt.Errorf("parse meta %s: %w", path, err)
	}
	return m, raw, nil
}

// Package message defines the read-only view of an outgoing mail message that
// the file transport and the delivery monitor consume.
package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
)

// ErrUnparsed is returned by accessors of a message whose header block could
// not be parsed.
var ErrUnparsed = errors.New("message could not be parsed")

// Header is a single header field. Messages keep headers in wire order and
// duplicates are allowed.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is implemented by anything the transport can serialize. Every
// accessor may fail; callers decide how to degrade.
type Message interface {
	Headers() ([]Header, error)
	Subject() (string, error)
	MessageID() (string, error)
	Content() (io.Reader, error)
}

// Parsed is an RFC 5322 message read from raw bytes.
type Parsed struct {
	headers []Header
	header  mail.Header
	body    []byte
}

// Parse reads raw into a Parsed message.
func Parse(raw []byte) (*Parsed, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	body, err := io.ReadAll(m.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Parsed{headers: orderedHeaders(raw), header: m.Header, body: body}, nil
}

func (p *Parsed) Headers() ([]Header, error) {
	return append([]Header(nil), p.headers...), nil
}

// Subject returns the decoded Subject header, or "" when absent.
func (p *Parsed) Subject() (string, error) {
	s := p.header.Get("Subject")
	if s == "" {
		return "", nil
	}
	dec := new(mime.WordDecoder)
	if d, err := dec.DecodeHeader(s); err == nil {
		return d, nil
	}
	return s, nil
}

func (p *Parsed) MessageID() (string, error) {
	return p.header.Get("Message-ID"), nil
}

func (p *Parsed) Content() (io.Reader, error) {
	return bytes.NewReader(p.body), nil
}

// Raw wraps bytes that are not a valid message. Only Content succeeds.
type Raw []byte

func (r Raw) Headers() ([]Header, error)  { return nil, ErrUnparsed }
func (r Raw) Subject() (string, error)    { return "", ErrUnparsed }
func (r Raw) MessageID() (string, error)  { return "", ErrUnparsed }
func (r Raw) Content() (io.Reader, error) { return bytes.NewReader(r), nil }

// FromBytes parses raw and falls back to Raw when parsing fails.
func FromBytes(raw []byte) Message {
	p, err := Parse(raw)
	if err != nil {
		return Raw(raw)
	}
	return p
}

// HeaderValues returns every value of name, case-insensitively, in order.
func HeaderValues(hs []Header, name string) []string {
	var out []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// orderedHeaders scans the header block of raw. net/mail keeps headers in a
// map, which loses both order and the original name casing.
func orderedHeaders(raw []byte) []Header {
	var out []Header
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			last := &out[len(out)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out = append(out, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}

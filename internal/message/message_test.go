package message

import (
	"errors"
	"io"
	"strings"
	"testing"
)

const sample = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"X-Trace: one\r\n" +
	"Subject: =?utf-8?q?caf=C3=A9?=\r\n" +
	"X-Trace: two\r\n" +
	"X-Long: first\r\n" +
	"  second\r\n" +
	"Message-ID: <id-1@example.com>\r\n" +
	"\r\n" +
	"hello\r\n"

func TestParse_HeadersKeepOrderAndDuplicates(t *testing.T) {
	p, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	hs, _ := p.Headers()
	want := []string{"From", "To", "X-Trace", "Subject", "X-Trace", "X-Long", "Message-ID"}
	if len(hs) != len(want) {
		t.Fatalf("headers = %v", hs)
	}
	for i, n := range want {
		if hs[i].Name != n {
			t.Fatalf("header %d = %q, want %q", i, hs[i].Name, n)
		}
	}
	if hs[5].Value != "first second" {
		t.Fatalf("folded value = %q", hs[5].Value)
	}
	if got := HeaderValues(hs, "x-trace"); len(got) != 2 || got[1] != "two" {
		t.Fatalf("HeaderValues = %v", got)
	}
}

func TestParse_Accessors(t *testing.T) {
	p, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s, _ := p.Subject(); s != "café" {
		t.Fatalf("subject = %q", s)
	}
	if id, _ := p.MessageID(); id != "<id-1@example.com>" {
		t.Fatalf("message id = %q", id)
	}
	r, _ := p.Content()
	b, _ := io.ReadAll(r)
	if string(b) != "hello\r\n" {
		t.Fatalf("body = %q", b)
	}
}

func TestFromBytes_FallsBackToRaw(t *testing.T) {
	m := FromBytes([]byte("no header block here"))
	if _, ok := m.(Raw); !ok {
		t.Fatalf("expected Raw, got %T", m)
	}
	if _, err := m.Subject(); !errors.Is(err, ErrUnparsed) {
		t.Fatalf("subject err = %v", err)
	}
	if _, err := m.Content(); err != nil {
		t.Fatalf("content err = %v", err)
	}
}

func TestTextBody(t *testing.T) {
	multi := func(parts ...string) string {
		var b strings.Builder
		b.WriteString("Content-Type: multipart/alternative; boundary=XX\r\n\r\n")
		for _, p := range parts {
			b.WriteString("--XX\r\n" + p + "\r\n")
		}
		b.WriteString("--XX--\r\n")
		return b.String()
	}
	tests := []struct {
		name string
		raw  string
		want string
		err  error
	}{
		{name: "plain", raw: "Subject: x\r\n\r\nbody", want: "body"},
		{
			name: "plain preferred over html",
			raw:  multi("Content-Type: text/html\r\n\r\n<b>hi</b>", "Content-Type: text/plain\r\n\r\nhi"),
			want: "hi",
		},
		{
			name: "html fallback",
			raw:  multi("Content-Type: application/pdf\r\n\r\n%PDF", "Content-Type: text/html\r\n\r\n<b>hi</b>"),
			want: "<b>hi</b>",
		},
		{
			name: "base64 part",
			raw:  multi("Content-Type: text/plain\r\nContent-Transfer-Encoding: base64\r\n\r\naGVsbG8="),
			want: "hello",
		},
		{
			name: "no text",
			raw:  multi("Content-Type: image/png\r\n\r\nPNG"),
			err:  ErrNoTextBody,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got, err := TextBody(p)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TextBody: %v", err)
			}
			if got != tc.want {
				t.Fatalf("body = %q, want %q", got, tc.want)
			}
		})
	}
}

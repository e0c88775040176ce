package outbox

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

// NoBodyText replaces the body when a message has no text part.
const NoBodyText = "UNABLE TO FIND BODY (text nor html)!"

// leadingHeaders are written first, in this order.
var leadingHeaders = []string{"Date", "From", "To", "Subject", "Message-ID"}

// RenderText writes m as headers followed by its text body.
func RenderText(w io.Writer, m message.Message) error {
	hs, err := m.Headers()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, name := range leadingHeaders {
		writeHeader(bw, name, message.HeaderValues(hs, name))
	}
	for _, h := range hs {
		if isLeading(h.Name) {
			continue
		}
		writeHeader(bw, h.Name, []string{h.Value})
	}
	bw.WriteByte('\n')

	body, err := message.TextBody(m)
	switch {
	case errors.Is(err, message.ErrNoTextBody):
		body = NoBodyText
	case err != nil:
		return err
	}
	bw.WriteString(body)
	bw.WriteByte('\n')
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, name string, values []string) {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		w.WriteString(name)
		w.WriteString(": ")
		w.WriteString(v)
		w.WriteByte('\n')
	}
}

func isLeading(name string) bool {
	for _, h := range leadingHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

package message

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"
)

// ErrNoTextBody means the message has neither a text/plain nor any other
// text/* part.
var ErrNoTextBody = errors.New("no text body")

// TextBody extracts the human-readable body of m. A text/plain part wins;
// otherwise the first text/* part is used.
func TextBody(m Message) (string, error) {
	hs, err := m.Headers()
	if err != nil {
		return "", err
	}
	r, err := m.Content()
	if err != nil {
		return "", err
	}
	ct := first(HeaderValues(hs, "Content-Type"))
	cte := first(HeaderValues(hs, "Content-Transfer-Encoding"))
	body, _, ok, err := findText(ct, cte, r)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoTextBody
	}
	return body, nil
}

// findText returns the chosen body and whether it was text/plain.
func findText(ct, cte string, r io.Reader) (string, bool, bool, error) {
	mediaType := "text/plain"
	params := map[string]string{}
	if ct != "" {
		mt, p, err := mime.ParseMediaType(ct)
		if err != nil {
			return "", false, false, fmt.Errorf("content type %q: %w", ct, err)
		}
		mediaType, params = mt, p
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		var fallback string
		haveFallback := false
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", false, false, fmt.Errorf("next part: %w", err)
			}
			body, plain, ok, err := findText(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", false, false, err
			}
			if ok && plain {
				return body, true, true, nil
			}
			if ok && !haveFallback {
				fallback, haveFallback = body, true
			}
		}
		return fallback, false, haveFallback, nil
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return "", false, false, nil
	}
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", false, false, fmt.Errorf("read %s: %w", mediaType, err)
	}
	return string(b), mediaType == "text/plain", true, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

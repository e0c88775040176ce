package outbox

import (
	"testing"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

func mustParse(t *testing.T, raw string) *message.Parsed {
	t.Helper()
	p, err := message.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

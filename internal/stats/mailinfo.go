package stats

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

// MailInfo describes the most recent failed delivery. A MailInfo is never
// modified after BuildMailInfo returns it.
type MailInfo struct {
	Date             time.Time        `json:"date"`
	MessageID        string           `json:"messageId,omitempty"`
	Subject          string           `json:"subject,omitempty"`
	ToAddresses      []string         `json:"toAddresses"`
	Headers          []message.Header `json:"headers"`
	ErrorDescription string           `json:"errorDescription"`
}

// BuildMailInfo captures msg, rcpts and cause. Fields the message cannot
// produce are left empty; the record is always returned.
func BuildMailInfo(msg message.Message, rcpts []string, cause error, now time.Time) *MailInfo {
	info := &MailInfo{
		Date:             now,
		ToAddresses:      recipientSet(rcpts),
		Headers:          []message.Header{},
		ErrorDescription: DescribeError(cause),
	}
	if msg == nil {
		return info
	}
	if hs, ok := try(msg.Headers); ok && hs != nil {
		info.Headers = append([]message.Header(nil), hs...)
	}
	if id, ok := try(msg.MessageID); ok {
		info.MessageID = id
	}
	if s, ok := try(msg.Subject); ok {
		info.Subject = s
	}
	return info
}

// DescribeError renders err as "TypeName: message", or just the type name
// when the message is empty. fmt.Errorf wrappers are looked through so the
// name is that of the wrapped error.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	t := causeType(err)
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	// Error itself may panic, e.g. on a typed nil pointer.
	msg, ok := try(func() (string, error) { return err.Error(), nil })
	if ok && msg != "" {
		return name + ": " + msg
	}
	return name
}

func causeType(err error) reflect.Type {
	for {
		t := reflect.TypeOf(err)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.PkgPath() != "fmt" {
			return t
		}
		next := errors.Unwrap(err)
		if next == nil {
			return t
		}
		err = next
	}
}

func recipientSet(rcpts []string) []string {
	out := make([]string, 0, len(rcpts))
	seen := make(map[string]struct{}, len(rcpts))
	for _, r := range rcpts {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// try calls get, treating both an error and a panic as "no value".
func try[T any](get func() (T, error)) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, ok = zero, false
		}
	}()
	v, err := get()
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Clone returns a deep copy of m. It is safe on a nil receiver.
func (m *MailInfo) Clone() *MailInfo {
	if m == nil {
		return nil
	}
	c := *m
	c.ToAddresses = slices.Clone(m.ToAddresses)
	c.Headers = slices.Clone(m.Headers)
	return &c
}

func (m *MailInfo) String() string {
	return fmt.Sprintf("%s id=%q subject=%q to=%v: %s", m.Date.Format(time.RFC3339), m.MessageID, m.Subject, m.ToAddresses, m.ErrorDescription)
}

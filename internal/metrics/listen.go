package metrics

import (
	"fmt"
	"net"
	"strings"
)

// RequireLoopback rejects listen addresses that are not bound to a loopback
// host. The metrics and management listeners are never exposed on ":port" or
// a wildcard address.
func RequireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen addr %q: %w", addr, err)
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "":
		return fmt.Errorf("invalid listen addr %q: empty host binds every interface", addr)
	case "localhost":
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("invalid listen addr %q: host must be a loopback address", addr)
	}
	return nil
}

package outbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const maxNameAttempts = 1000

// CreateFile creates base.ext in dir, or base-1.ext, base-2.ext and so on if
// the name is taken. The returned file is empty and open for writing.
func CreateFile(dir, base, ext string) (*os.File, string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := base + "." + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d.%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			return f, p, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", p, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s.%s in %s", base, ext, dir)
}

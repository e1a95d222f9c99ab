package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Local writes documents below a directory on disk.
type Local struct {
	dir string
}

// NewLocal creates a Local store rooted at dir. The directory is created on
// first write.
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// Put writes data to dir/key through a temp file so readers never see a
// partial document.
func (l *Local) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "artifact: local put")
	}
	name, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: create %s", l.dir)
	}

	tmp, err := os.CreateTemp(l.dir, "."+name+".*")
	if err != nil {
		return "", eris.Wrap(err, "artifact: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrapf(err, "artifact: write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "artifact: close %s", name)
	}

	dest := filepath.Join(l.dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", eris.Wrapf(err, "artifact: rename to %s", dest)
	}
	return dest, nil
}

func cleanKey(key string) (string, error) {
	name := filepath.Base(strings.TrimSpace(key))
	if name == "." || name == "/" || name == "" || name != key {
		return "", eris.Errorf("artifact: invalid key %q", key)
	}
	return name, nil
}

package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FSContentStore stores document bytes as files under a download directory,
// one file per document identity and version.
type FSContentStore struct {
	dir string
}

// NewFSContentStore creates the download directory if needed.
func NewFSContentStore(dir string) (*FSContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "content: create download dir %s", dir)
	}
	return &FSContentStore{dir: dir}, nil
}

func (s *FSContentStore) path(documentIdentity string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.v%d.pdf", documentIdentity, version))
}

// Put writes the document atomically (temp file + rename) so a crashed run
// never leaves a truncated document that a later run would trust.
func (s *FSContentStore) Put(ctx context.Context, documentIdentity string, version int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "content: put cancelled")
	}

	dst := s.path(documentIdentity, version)
	tmp, err := os.CreateTemp(s.dir, documentIdentity+".*")
	if err != nil {
		return "", eris.Wrap(err, "content: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrapf(err, "content: write %s", documentIdentity)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "content: close %s", documentIdentity)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", eris.Wrapf(err, "content: rename %s", documentIdentity)
	}

	return dst, nil
}

// Location reports whether the document version is already stored.
func (s *FSContentStore) Location(documentIdentity string, version int) (string, bool) {
	p := s.path(documentIdentity, version)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

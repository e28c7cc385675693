package stacklog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/stackdio/stackd/internal/model"
)

// Local stores logs on the worker's filesystem under root/<slug>/.
type Local struct {
	root string
	now  func() time.Time
}

func NewLocal(root string) *Local {
	return &Local{root: root, now: time.Now}
}

func (l *Local) Put(_ context.Context, slug, name string, data []byte) error {
	if err := checkNames(slug, name); err != nil {
		return err
	}
	dir := filepath.Join(l.root, slug)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stampedName(name, l.now())), data, 0o640); err != nil {
		return fmt.Errorf("write log %s/%s: %w", slug, name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, latestName(name)), data, 0o640); err != nil {
		return fmt.Errorf("write latest log %s/%s: %w", slug, name, err)
	}
	return nil
}

func (l *Local) Latest(_ context.Context, slug, name string) ([]byte, error) {
	if err := checkNames(slug, name); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	data, err := os.ReadFile(filepath.Join(l.root, slug, latestName(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("log %s/%s: %w", slug, name, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read log %s/%s: %w", slug, name, err)
	}
	return data, nil
}

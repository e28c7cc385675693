package salt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/stack"
)

// Workspace lays out stack working directories under a root shared with the
// salt master's file_roots.
type Workspace struct {
	root string
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

// Env returns the environment of a stack without touching the filesystem.
func (w *Workspace) Env(st model.Stack) Env {
	return Env{Dir: stack.Dir(w.root, st), Slug: st.Slug()}
}

// Materialize writes the stack's persisted artifacts into its directory.
// Existing files are replaced so every worker runs from the stored state.
func (w *Workspace) Materialize(st model.Stack) (Env, error) {
	env := w.Env(st)
	if err := os.MkdirAll(env.Dir, 0o750); err != nil {
		return Env{}, fmt.Errorf("create stack directory %s: %w", env.Dir, err)
	}
	files := map[string]string{
		stack.MapFile:         st.Artifacts.Map,
		stack.PillarFile:      st.Artifacts.Pillar,
		stack.TopFile:         st.Artifacts.Top,
		stack.OrchestrateFile: st.Artifacts.Orchestrate,
	}
	for name, content := range files {
		if err := writeFile(filepath.Join(env.Dir, name), content); err != nil {
			return Env{}, err
		}
	}
	return env, nil
}

// Remove deletes the stack's directory. A missing directory is not an error.
func (w *Workspace) Remove(st model.Stack) error {
	if err := os.RemoveAll(w.Env(st).Dir); err != nil {
		return fmt.Errorf("remove stack directory: %w", err)
	}
	return nil
}

func writeFile(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

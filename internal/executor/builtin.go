package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

const defaultReadLimit = 64 * 1024

// RegisterBuiltins adds the read-only filesystem tools list_dir and
// read_file. When roots is non-empty, paths outside them are refused.
func RegisterBuiltins(r *Registry, roots ...string) error {
	fs := &fsTools{roots: cleanRoots(roots)}

	if err := r.Register(agent.ToolDefinition{
		Name:        "list_dir",
		Description: "List the entries of a directory on the local filesystem",
		Parameters:  map[string]string{"path": "string"},
		Required:    []string{"path"},
	}, fs.listDir); err != nil {
		return err
	}
	return r.Register(agent.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a text file on the local filesystem",
		Parameters:  map[string]string{"path": "string", "max_bytes": "integer"},
		Required:    []string{"path"},
	}, fs.readFile)
}

type fsTools struct {
	roots []string
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func (f *fsTools) resolve(args map[string]any) (string, error) {
	p, ok := StringArg(args, "path")
	if !ok {
		return "", ToolError("missing required argument: path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", ToolError("invalid path %q: %v", p, err)
	}
	if len(f.roots) == 0 {
		return abs, nil
	}
	for _, root := range f.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", ToolError("path %q is outside the allowed roots", p)
}

func (f *fsTools) listDir(_ context.Context, args map[string]any) (string, error) {
	dir, err := f.resolve(args)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ToolError("list %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("%s is empty", dir), nil
	}
	return strings.Join(names, "\n"), nil
}

func (f *fsTools) readFile(_ context.Context, args map[string]any) (string, error) {
	path, err := f.resolve(args)
	if err != nil {
		return "", err
	}
	limit, ok := IntArg(args, "max_bytes")
	if !ok || limit <= 0 {
		limit = defaultReadLimit
	}
	file, err := os.Open(path)
	if err != nil {
		return "", ToolError("open %s: %v", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return "", ToolError("read %s: %v", path, err)
	}
	return string(data), nil
}

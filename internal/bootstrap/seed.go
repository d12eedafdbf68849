// Package bootstrap seeds agent workspace directories with their starter
// files on gateway startup.
package bootstrap

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

//go:embed templates/*.md
var templateFS embed.FS

// AgentsFile is the per-workspace operating instructions file.
const AgentsFile = "AGENTS.md"

// EnsureWorkspaces creates the workspace directory for every configured
// agent and seeds starter files that don't exist yet. Existing files are
// never overwritten. Returns the created file paths.
func EnsureWorkspaces(cfg *config.Config) ([]string, error) {
	dirs := map[string]bool{}

	defaults := cfg.ResolveAgent(sessions.DefaultAgentID)
	dirs[config.ExpandHome(defaults.Workspace)] = true

	_, agents := cfg.Snapshot()
	for _, spec := range agents {
		a := cfg.ResolveAgent(spec.ID)
		dirs[config.ExpandHome(a.Workspace)] = true
	}

	var created []string
	for dir := range dirs {
		files, err := ensureWorkspace(dir)
		if err != nil {
			return created, err
		}
		created = append(created, files...)
	}
	return created, nil
}

func ensureWorkspace(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var created []string
	ok, err := seedTemplate(dir, AgentsFile)
	if err != nil {
		return nil, err
	}
	if ok {
		created = append(created, filepath.Join(dir, AgentsFile))
	}
	return created, nil
}

// seedTemplate writes an embedded template into dir unless the file already
// exists. O_EXCL keeps a concurrent seed from clobbering operator edits.
func seedTemplate(dir, name string) (bool, error) {
	dst := filepath.Join(dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dst)
		return false, err
	}

	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

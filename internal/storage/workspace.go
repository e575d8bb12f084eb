package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VaultSpec names a vault directory.
type VaultSpec struct {
	Name string
	Path string
}

// Vault is one named partition of the workspace.
type Vault struct {
	Name  string
	Store Provider
}

// Workspace is the ordered set of vaults. Declaration order is the vault
// order used for lookups and tie-breaks.
type Workspace struct {
	vaults []Vault
}

// NewWorkspace opens a file-system provider for every spec.
func NewWorkspace(specs []VaultSpec) (*Workspace, error) {
	ws := &Workspace{}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" || strings.ContainsAny(s.Name, "/\\") {
			return nil, fmt.Errorf("storage: invalid vault name %q", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("storage: duplicate vault %q", s.Name)
		}
		seen[s.Name] = true
		fs, err := NewFS(s.Path)
		if err != nil {
			return nil, fmt.Errorf("storage: vault %s: %w", s.Name, err)
		}
		ws.vaults = append(ws.vaults, Vault{Name: s.Name, Store: fs})
	}
	return ws, nil
}

// Vaults returns the vaults in declaration order.
func (w *Workspace) Vaults() []Vault {
	out := make([]Vault, len(w.vaults))
	copy(out, w.vaults)
	return out
}

// Names returns the vault names in declaration order.
func (w *Workspace) Names() []string {
	out := make([]string, 0, len(w.vaults))
	for _, v := range w.vaults {
		out = append(out, v.Name)
	}
	return out
}

// Vault returns the provider of the named vault.
func (w *Workspace) Vault(name string) (Provider, bool) {
	for _, v := range w.vaults {
		if v.Name == name {
			return v.Store, true
		}
	}
	return nil, false
}

// Rank returns the declaration index of a vault, or -1.
func (w *Workspace) Rank(name string) int {
	for i, v := range w.vaults {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Locate maps an absolute file path to its vault and vault-relative path.
func (w *Workspace) Locate(abs string) (vault, rel string, ok bool) {
	for _, v := range w.vaults {
		root := v.Store.Root()
		if !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			continue
		}
		r, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		return v.Name, filepath.ToSlash(r), true
	}
	return "", "", false
}

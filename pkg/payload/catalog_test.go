package payload

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// TestLoadCatalog_MissingManifest tests that a directory without a manifest fails
func TestLoadCatalog_MissingManifest(t *testing.T) {
	if _, err := LoadCatalog(t.TempDir(), zap.NewNop()); err == nil {
		t.Error("LoadCatalog() without manifest succeeded, want error")
	}
}

// TestLoadCatalog_DuplicateTool tests duplicate name rejection
func TestLoadCatalog_DuplicateTool(t *testing.T) {
	dir := t.TempDir()
	manifest := `tools:
  - name: a
    script: a.py
    kind: python
  - name: a
    script: a.py
    kind: python
`
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(dir, zap.NewNop()); err == nil {
		t.Error("LoadCatalog() with duplicate tool succeeded, want error")
	}
}

// TestLoadCatalog_BadKind tests script kind validation
func TestLoadCatalog_BadKind(t *testing.T) {
	dir := t.TempDir()
	manifest := `tools:
  - name: a
    script: a.sh
    kind: bash
`
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(dir, zap.NewNop()); err == nil {
		t.Error("LoadCatalog() with unknown kind succeeded, want error")
	}
}

// TestLoadScript_PathConfinement tests traversal rejection
func TestLoadScript_PathConfinement(t *testing.T) {
	catalog := testCatalog(t)

	for _, name := range []string{
		"../outside.py",
		"../../etc/passwd",
		"/etc/passwd",
		"sub/../../outside.py",
		"",
	} {
		if _, err := catalog.LoadScript(name); err == nil {
			t.Errorf("LoadScript(%q) succeeded, want error", name)
		}
	}
}

// TestLoadScript_Empty tests empty script rejection
func TestLoadScript_Empty(t *testing.T) {
	dir := t.TempDir()
	manifest := "tools:\n  - name: a\n    script: a.py\n    kind: python\n"
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.py"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadCatalog(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if _, err := catalog.LoadScript("a.py"); err == nil {
		t.Error("LoadScript() of empty file succeeded, want error")
	}
}

// TestCatalogLookupAndList tests indexing behavior
func TestCatalogLookupAndList(t *testing.T) {
	catalog := testCatalog(t)

	spec, err := catalog.Lookup("container.list")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if spec.Script != "container_list.py" {
		t.Errorf("Script = %s, want container_list.py", spec.Script)
	}

	if _, err := catalog.Lookup("nope"); !IsUnknownToolError(err) {
		t.Errorf("Lookup(nope) error = %v, want UnknownToolError", err)
	}

	if got := len(catalog.List()); got != 3 {
		t.Errorf("List() length = %d, want 3", got)
	}
}

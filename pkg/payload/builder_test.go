package payload

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const testManifest = `tools:
  - name: container.list
    script: container_list.py
    kind: python
    description: List containers
    helpers:
      - helper_common.py
  - name: disk.cleanup
    script: disk_cleanup.ps1
    kind: powershell
    max_args: 2
  - name: broken.helpers
    script: container_list.py
    kind: python
    helpers:
      - missing_helper.py
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"catalog.yaml":      testManifest,
		"container_list.py": "import json\nprint(json.dumps([]))\n",
		"helper_common.py":  "def helper():\n    pass\n",
		"disk_cleanup.ps1":  "Remove-Item -Path $args[0] -Recurse\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	catalog, err := LoadCatalog(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	return catalog
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(testCatalog(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return builder
}

// TestBuild_Python tests a full python execution unit
func TestBuild_Python(t *testing.T) {
	builder := testBuilder(t)
	key := testKey(t)

	unit, err := builder.Build("container.list", []string{"--all"}, key)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !unit.Success || !unit.Encrypted {
		t.Error("Unit should be marked success and encrypted")
	}
	if unit.Type != "python" {
		t.Errorf("Type = %s, want python", unit.Type)
	}
	if unit.EncryptedScript == "" {
		t.Error("EncryptedScript is empty")
	}
	if unit.EncryptedCommand != "" {
		t.Error("EncryptedCommand should be empty for python tools")
	}
	if unit.ScriptName != "container_list.py" {
		t.Errorf("ScriptName = %s, want container_list.py", unit.ScriptName)
	}
	if len(unit.Arguments) != 1 || unit.Arguments[0] != "--all" {
		t.Errorf("Arguments = %v, want [--all]", unit.Arguments)
	}
	if unit.Decryption.Algorithm != AlgorithmAES256GCM {
		t.Errorf("Algorithm = %s, want %s", unit.Decryption.Algorithm, AlgorithmAES256GCM)
	}
	if unit.Decryption.Key != hex.EncodeToString(key) {
		t.Error("Decryption key does not match tenant key")
	}
	if len(unit.HelperScripts) != 1 {
		t.Fatalf("HelperScripts count = %d, want 1", len(unit.HelperScripts))
	}
	if unit.HelperScripts[0].Name != "helper_common.py" {
		t.Errorf("Helper name = %s, want helper_common.py", unit.HelperScripts[0].Name)
	}

	// The unit must decrypt back to the catalog script
	assertDecrypts(t, unit.EncryptedScript, unit.IV, unit.AuthTag, key, "import json\nprint(json.dumps([]))\n")
	helper := unit.HelperScripts[0]
	assertDecrypts(t, helper.EncryptedContent, helper.IV, helper.AuthTag, key, "def helper():\n    pass\n")
}

// TestBuild_PowerShell tests that powershell payloads use encryptedCommand
func TestBuild_PowerShell(t *testing.T) {
	builder := testBuilder(t)
	key := testKey(t)

	unit, err := builder.Build("disk.cleanup", nil, key)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if unit.EncryptedCommand == "" {
		t.Error("EncryptedCommand is empty")
	}
	if unit.EncryptedScript != "" {
		t.Error("EncryptedScript should be empty for powershell tools")
	}
	if unit.Type != "powershell" {
		t.Errorf("Type = %s, want powershell", unit.Type)
	}
	if unit.Arguments == nil {
		t.Error("Arguments should be an empty slice, not nil")
	}
}

// TestBuild_HelperDegradation tests that a missing helper is omitted, not fatal
func TestBuild_HelperDegradation(t *testing.T) {
	builder := testBuilder(t)

	unit, err := builder.Build("broken.helpers", nil, testKey(t))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(unit.HelperScripts) != 0 {
		t.Errorf("HelperScripts count = %d, want 0 after omission", len(unit.HelperScripts))
	}
	if unit.EncryptedScript == "" {
		t.Error("Primary script should still be delivered")
	}
}

// TestBuild_UnknownTool tests the typed unknown-tool error
func TestBuild_UnknownTool(t *testing.T) {
	builder := testBuilder(t)

	_, err := builder.Build("no.such.tool", nil, testKey(t))
	if err == nil {
		t.Fatal("Build() with unknown tool succeeded, want error")
	}
	if !IsUnknownToolError(err) {
		t.Errorf("IsUnknownToolError() = false for %v", err)
	}
}

// TestBuild_MaxArgs tests the argument count bound
func TestBuild_MaxArgs(t *testing.T) {
	builder := testBuilder(t)

	if _, err := builder.Build("disk.cleanup", []string{"a", "b", "c"}, testKey(t)); err == nil {
		t.Error("Build() over max_args succeeded, want error")
	}
	if _, err := builder.Build("disk.cleanup", []string{"a", "b"}, testKey(t)); err != nil {
		t.Errorf("Build() at max_args error = %v", err)
	}
}

// TestBuildCommand tests inline command encryption
func TestBuildCommand(t *testing.T) {
	builder := testBuilder(t)
	key := testKey(t)

	unit, err := builder.BuildCommand("Get-Service", key)
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	if unit.Type != "powershell" {
		t.Errorf("Type = %s, want powershell", unit.Type)
	}
	assertDecrypts(t, unit.EncryptedCommand, unit.IV, unit.AuthTag, key, "Get-Service")

	if _, err := builder.BuildCommand("", key); err == nil {
		t.Error("BuildCommand() with empty command succeeded, want error")
	}
}

func assertDecrypts(t *testing.T, dataHex, ivHex, tagHex string, key []byte, want string) {
	t.Helper()

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		t.Fatalf("Ciphertext is not hex: %v", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		t.Fatalf("IV is not hex: %v", err)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		t.Fatalf("AuthTag is not hex: %v", err)
	}

	plaintext, err := Decrypt(&Ciphertext{Data: data, Nonce: iv, Tag: tag}, key)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != want {
		t.Errorf("Decrypted = %q, want %q", plaintext, want)
	}
}

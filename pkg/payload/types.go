package payload

import "time"

const (
	// AlgorithmAES256GCM is the only algorithm shipped on the wire
	AlgorithmAES256GCM = "aes-256-gcm"

	// KeySize is the tenant key length in bytes
	KeySize = 32

	// TagSize is the GCM authentication tag length in bytes
	TagSize = 16

	// MaxScriptSize bounds what the builder will load from the catalog
	MaxScriptSize = 4 << 20
)

// ScriptKind identifies the interpreter the executor must use
type ScriptKind string

const (
	ScriptKindPython     ScriptKind = "python"
	ScriptKindPowerShell ScriptKind = "powershell"
)

// Ciphertext is one independently encrypted part of an execution unit.
// Data and Tag travel separately on the wire, both hex encoded.
type Ciphertext struct {
	Data  []byte
	Nonce []byte
	Tag   []byte
}

// EncryptedHelper is a bundled helper script, encrypted under the same
// tenant key as the primary script but with its own nonce.
type EncryptedHelper struct {
	Name             string `json:"name"`
	EncryptedContent string `json:"encryptedContent"` // hex
	IV               string `json:"iv"`               // hex
	AuthTag          string `json:"authTag"`          // hex
}

// DecryptionInfo tells the executor how to decrypt the unit. The key is the
// tenant key, hex encoded; no out-of-band negotiation is needed.
type DecryptionInfo struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"` // hex
}

// ExecutionUnit is the complete wire format for one encrypted automation
// primitive: primary script (or raw command), optional helpers, and the
// metadata the executor needs to decrypt and invoke it deterministically.
type ExecutionUnit struct {
	Success   bool   `json:"success"`
	Encrypted bool   `json:"encrypted"`
	Tool      string `json:"tool"`

	// Exactly one of EncryptedScript / EncryptedCommand is set, keyed by
	// the script kind.
	EncryptedScript  string `json:"encryptedScript,omitempty"`  // hex
	EncryptedCommand string `json:"encryptedCommand,omitempty"` // hex

	IV      string `json:"iv"`      // hex
	AuthTag string `json:"authTag"` // hex

	Type          string            `json:"type"` // python | powershell
	ScriptName    string            `json:"scriptName"`
	Arguments     []string          `json:"arguments"`
	HelperScripts []EncryptedHelper `json:"helperScripts,omitempty"`

	Decryption  DecryptionInfo `json:"decryption"`
	Instruction string         `json:"instruction"`

	BuiltAt time.Time `json:"builtAt"`
}

// ToolSpec describes one catalog entry: an automation primitive backed by a
// script file in the trusted local catalog directory.
type ToolSpec struct {
	Name        string     `json:"name" yaml:"name"`
	Script      string     `json:"script" yaml:"script"`
	Kind        ScriptKind `json:"kind" yaml:"kind"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Helpers     []string   `json:"helpers,omitempty" yaml:"helpers,omitempty"`

	// MaxArgs bounds the argument list, 0 means no limit
	MaxArgs int `json:"max_args,omitempty" yaml:"max_args,omitempty"`
}

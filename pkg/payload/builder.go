package payload

import (
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/observability"
)

// Builder assembles encrypted execution units from the script catalog.
// Each part is encrypted independently under the tenant key with its own
// fresh nonce; the builder itself holds no key material.
type Builder struct {
	catalog *Catalog
	logger  *zap.Logger
}

// NewBuilder creates a new payload builder
func NewBuilder(catalog *Catalog, logger *zap.Logger) (*Builder, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Builder{catalog: catalog, logger: logger}, nil
}

// Build loads the tool's primary script and helpers from the catalog and
// encrypts them under the tenant key. A helper that fails to load is logged
// and omitted; the primary script must remain executable on its own, so
// missing optional helpers never abort the unit.
func (b *Builder) Build(tool string, args []string, key []byte) (*ExecutionUnit, error) {
	start := time.Now()
	defer func() {
		observability.PayloadBuildDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	spec, err := b.catalog.Lookup(tool)
	if err != nil {
		return nil, err
	}

	if spec.MaxArgs > 0 && len(args) > spec.MaxArgs {
		return nil, fmt.Errorf("tool %s accepts at most %d arguments, got %d", tool, spec.MaxArgs, len(args))
	}

	source, err := b.catalog.LoadScript(spec.Script)
	if err != nil {
		observability.PayloadEncryptionsTotal.WithLabelValues(kindLabel(spec.Kind), "failure").Inc()
		return nil, fmt.Errorf("failed to load primary script for %s: %w", tool, err)
	}

	primary, err := Encrypt(source, key)
	if err != nil {
		observability.PayloadEncryptionsTotal.WithLabelValues(kindLabel(spec.Kind), "failure").Inc()
		return nil, fmt.Errorf("failed to encrypt primary script for %s: %w", tool, err)
	}
	observability.PayloadEncryptionsTotal.WithLabelValues(kindLabel(spec.Kind), "success").Inc()

	unit := &ExecutionUnit{
		Success:    true,
		Encrypted:  true,
		Tool:       tool,
		IV:         hex.EncodeToString(primary.Nonce),
		AuthTag:    hex.EncodeToString(primary.Tag),
		Type:       string(spec.Kind),
		ScriptName: spec.Script,
		Arguments:  args,
		Decryption: DecryptionInfo{
			Algorithm: AlgorithmAES256GCM,
			Key:       hex.EncodeToString(key),
		},
		Instruction: instructionFor(spec.Kind),
		BuiltAt:     time.Now().UTC(),
	}
	if args == nil {
		unit.Arguments = []string{}
	}

	encoded := hex.EncodeToString(primary.Data)
	if spec.Kind == ScriptKindPowerShell {
		unit.EncryptedCommand = encoded
	} else {
		unit.EncryptedScript = encoded
	}

	for _, helperName := range spec.Helpers {
		helper, err := b.buildHelper(helperName, key)
		if err != nil {
			// Partial degradation: the primary primitive must not be
			// blocked by a missing optional helper.
			observability.PayloadHelpersOmitted.Inc()
			b.logger.Warn("Omitting helper script",
				zap.String("tool", tool),
				zap.String("helper", helperName),
				zap.Error(err),
			)
			continue
		}
		unit.HelperScripts = append(unit.HelperScripts, *helper)
	}

	b.logger.Debug("Execution unit built",
		zap.String("tool", tool),
		zap.String("kind", string(spec.Kind)),
		zap.Int("helpers", len(unit.HelperScripts)),
	)

	return unit, nil
}

// BuildCommand encrypts a raw command string (e.g. an ad-hoc PowerShell
// line) without touching the catalog.
func (b *Builder) BuildCommand(command string, key []byte) (*ExecutionUnit, error) {
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	ct, err := Encrypt([]byte(command), key)
	if err != nil {
		observability.PayloadEncryptionsTotal.WithLabelValues("command", "failure").Inc()
		return nil, fmt.Errorf("failed to encrypt command: %w", err)
	}
	observability.PayloadEncryptionsTotal.WithLabelValues("command", "success").Inc()

	return &ExecutionUnit{
		Success:          true,
		Encrypted:        true,
		Tool:             "powershell",
		EncryptedCommand: hex.EncodeToString(ct.Data),
		IV:               hex.EncodeToString(ct.Nonce),
		AuthTag:          hex.EncodeToString(ct.Tag),
		Type:             string(ScriptKindPowerShell),
		ScriptName:       "inline",
		Arguments:        []string{},
		Decryption: DecryptionInfo{
			Algorithm: AlgorithmAES256GCM,
			Key:       hex.EncodeToString(key),
		},
		Instruction: instructionFor(ScriptKindPowerShell),
		BuiltAt:     time.Now().UTC(),
	}, nil
}

func (b *Builder) buildHelper(name string, key []byte) (*EncryptedHelper, error) {
	source, err := b.catalog.LoadScript(name)
	if err != nil {
		observability.PayloadEncryptionsTotal.WithLabelValues("helper", "failure").Inc()
		return nil, err
	}

	ct, err := Encrypt(source, key)
	if err != nil {
		observability.PayloadEncryptionsTotal.WithLabelValues("helper", "failure").Inc()
		return nil, fmt.Errorf("failed to encrypt helper %s: %w", name, err)
	}
	observability.PayloadEncryptionsTotal.WithLabelValues("helper", "success").Inc()

	return &EncryptedHelper{
		Name:             name,
		EncryptedContent: hex.EncodeToString(ct.Data),
		IV:               hex.EncodeToString(ct.Nonce),
		AuthTag:          hex.EncodeToString(ct.Tag),
	}, nil
}

func instructionFor(kind ScriptKind) string {
	if kind == ScriptKindPowerShell {
		return "Decrypt encryptedCommand with the provided key and run it with PowerShell."
	}
	return "Decrypt encryptedScript and helperScripts with the provided key, write them to one directory, then run the script with the given arguments."
}

func kindLabel(kind ScriptKind) string {
	if kind == ScriptKindPowerShell {
		return "command"
	}
	return "script"
}

package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CompileResult carries the artifact the sandbox deploys.
type CompileResult struct {
	Bytecode  string
	ABI       json.RawMessage
	RawOutput string
}

const minimalFoundryConfig = `[profile.default]
src = "src"
out = "out"
libs = ["lib"]
`

// Compile runs the compiler over the checkout and loads the named contract's
// artifact. The artifact path is tried in the compiler's historical layouts.
func (t *Toolchain) Compile(ctx context.Context, dir, contractPath, contractName string) (*CompileResult, error) {
	if err := t.ensureFoundryConfig(dir); err != nil {
		return nil, err
	}

	stdout, stderr, err := t.run(ctx, t.cfg.CompileTimeout, dir, t.cfg.ForgeBinary, "build", "--force")
	if err != nil {
		if strings.Contains(err.Error(), ErrToolUnavailable.Error()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrCompileFailed, firstLine(stderr, stdout))
	}

	candidates := []string{
		filepath.Join(dir, "out", filepath.Base(contractPath), contractName+".json"),
		filepath.Join(dir, "out", contractName+".sol", contractName+".json"),
		filepath.Join(dir, "out", contractName+".json"),
	}
	var raw []byte
	for _, p := range candidates {
		if b, readErr := os.ReadFile(p); readErr == nil {
			raw = b
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: artifact for %s not found under %s/out", ErrCompileFailed, contractName, dir)
	}

	var artifact struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("%w: parse artifact: %s", ErrCompileFailed, err.Error())
	}
	if artifact.Bytecode.Object == "" || artifact.Bytecode.Object == "0x" {
		return nil, fmt.Errorf("%w: %s has no deployable bytecode", ErrCompileFailed, contractName)
	}
	return &CompileResult{
		Bytecode:  artifact.Bytecode.Object,
		ABI:       artifact.ABI,
		RawOutput: string(stdout),
	}, nil
}

// ensureFoundryConfig writes a minimal foundry.toml when the checkout has
// none, so bare-contract repos still compile.
func (t *Toolchain) ensureFoundryConfig(dir string) error {
	path := filepath.Join(dir, "foundry.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(minimalFoundryConfig), 0o644); err != nil {
		return fmt.Errorf("%w: write foundry.toml: %s", ErrCompileFailed, err.Error())
	}
	return nil
}

// ContractFileExists checks that the registered contract path is present in
// the checkout before compiling.
func (t *Toolchain) ContractFileExists(dir, contractPath string) bool {
	clean := filepath.Clean(contractPath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, clean))
	return err == nil && !info.IsDir()
}

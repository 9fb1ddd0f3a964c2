package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Builtin constructs a registry pre-populated with the shipped variants.
// sourceDir is the directory holding the per-variant assembly sources.
func Builtin(sourceDir string) (*Registry, error) {
	r := New()
	for _, v := range builtinVariants(sourceDir) {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func builtinVariants(sourceDir string) []Variant {
	source := func(name string) string {
		return filepath.Join(sourceDir, name, "boot.asm")
	}

	return []Variant{
		{
			Name:        "custom_message",
			DisplayName: "Custom Message",
			Description: "Displays a custom knock-knock joke message with colors",
			SafetyLevel: SafetySafe,
			Category:    "message",
			Features:    []string{"Text display", "Color support", "Screen clearing", "Custom message"},
			SourcePath:  source("custom_message"),
			TestOptions: TestOptions{TimeoutSeconds: 15, MemoryMB: 64},
		},
		{
			Name:        "empty",
			DisplayName: "Empty MBR",
			Description: "Minimal MBR with only boot signature - effectively wipes the boot sector",
			SafetyLevel: SafetyDestructive,
			Category:    "utility",
			Features:    []string{"Minimal code", "Boot signature only", "Infinite loop", "Boot sector wipe"},
			SourcePath:  source("empty"),
			TestOptions: TestOptions{TimeoutSeconds: 5, MemoryMB: 32},
		},
		{
			Name:        "memz",
			DisplayName: "MEMZ Style",
			Description: "Harmless MEMZ-inspired visual effects with colorful graphics",
			SafetyLevel: SafetyExperimental,
			Category:    "visual",
			Features:    []string{"Graphics mode", "Color animations", "Visual effects", "Text overlays"},
			SourcePath:  source("memz"),
			NativeHelper: true,
			TestOptions:  TestOptions{TimeoutSeconds: 20, MemoryMB: 128},
		},
	}
}

type catalogDocument struct {
	Variants []Variant `yaml:"variants"`
}

// LoadCatalog registers additional variants described by a YAML catalog
// file. Relative source paths are resolved against the catalog's directory.
func LoadCatalog(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for _, v := range doc.Variants {
		if v.SourcePath != "" && !filepath.IsAbs(v.SourcePath) {
			v.SourcePath = filepath.Join(baseDir, v.SourcePath)
		}
		if v.TestOptions.TimeoutSeconds <= 0 {
			v.TestOptions.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if v.TestOptions.MemoryMB <= 0 {
			v.TestOptions.MemoryMB = DefaultMemoryMB
		}
		if err := r.Register(v); err != nil {
			return fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return nil
}

// Defaults applied to catalog variants that omit test options.
const (
	DefaultTimeoutSeconds = 30
	DefaultMemoryMB       = 128
)

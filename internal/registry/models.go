package registry

// SafetyLevel is the declared risk tier of a variant. It governs the
// default execution policy applied when the variant is tested.
type SafetyLevel string

// Known safety levels.
const (
	SafetySafe         SafetyLevel = "safe"
	SafetyExperimental SafetyLevel = "experimental"
	SafetyDestructive  SafetyLevel = "destructive"
)

// Valid reports whether the level is one of the known tiers.
func (l SafetyLevel) Valid() bool {
	switch l {
	case SafetySafe, SafetyExperimental, SafetyDestructive:
		return true
	}
	return false
}

// TestOptions carries the per-variant defaults applied when no override
// is supplied on the command line.
type TestOptions struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MemoryMB       int `yaml:"memory_mb"`
}

// Variant describes one boot-sector payload and its metadata. Variants are
// immutable once registered; identity is Name.
type Variant struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Description string      `yaml:"description"`
	SafetyLevel SafetyLevel `yaml:"safety_level"`
	Category    string      `yaml:"category"`
	Features    []string    `yaml:"features"`

	// SourcePath points at the assembly source for the boot image.
	SourcePath string `yaml:"source_path"`

	// NativeHelper requests the companion writer executable build step.
	NativeHelper bool `yaml:"native_helper"`

	TestOptions TestOptions `yaml:"test_options"`
}

// SafetyWarning returns the operator-facing warning text for the variant.
func (v Variant) SafetyWarning() string {
	switch v.SafetyLevel {
	case SafetyDestructive:
		return v.DisplayName + " overwrites the boot sector it is deployed to; " +
			"a drive written with it will no longer boot. Test under snapshot isolation only."
	case SafetyExperimental:
		return v.DisplayName + " switches video modes and may misbehave on real hardware; " +
			"test under snapshot isolation first."
	default:
		return v.DisplayName + " only displays text, but writing any boot sector to a " +
			"physical drive replaces the existing one."
	}
}

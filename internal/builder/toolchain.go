package builder

import (
	"os/exec"
)

// Toolchain holds the resolved paths of the external build tools.
type Toolchain struct {
	Nasm string
	CXX  string
}

// ToolStatus describes the availability of one external tool.
type ToolStatus struct {
	Name      string
	Path      string
	Available bool
	Hint      string
}

var cxxCandidates = []string{"g++", "clang++"}

// LocateToolchain resolves the external assembler and C++ compiler from
// PATH. The C++ compiler is optional; it is only required for variants that
// declare a native helper.
func LocateToolchain() (Toolchain, error) {
	tc := Toolchain{}

	nasm, err := exec.LookPath("nasm")
	if err != nil {
		return tc, &ToolchainMissingError{Tool: "nasm", Hint: "install NASM from https://www.nasm.us/"}
	}
	tc.Nasm = nasm

	for _, candidate := range cxxCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			tc.CXX = path
			break
		}
	}
	return tc, nil
}

// CheckTools reports the availability of every build tool without failing.
func CheckTools() []ToolStatus {
	statuses := []ToolStatus{
		{Name: "nasm", Hint: "install NASM from https://www.nasm.us/"},
	}
	if path, err := exec.LookPath("nasm"); err == nil {
		statuses[0].Path = path
		statuses[0].Available = true
	}

	cxx := ToolStatus{Name: "c++ compiler", Hint: "install g++ or clang++"}
	for _, candidate := range cxxCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			cxx.Path = path
			cxx.Available = true
			break
		}
	}
	return append(statuses, cxx)
}

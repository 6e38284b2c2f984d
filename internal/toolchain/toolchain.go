// Package toolchain holds the knowledge of how the external firmware build
// tool is invoked: which subcommand each operation maps to, which chip
// targets exist, and where build output lands.
package toolchain

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// Op identifies a build operation submitted against a project.
type Op string

const (
	OpSetTarget   Op = "set-target"
	OpBuild       Op = "build"
	OpClean       Op = "clean"
	OpSize        Op = "size-report"
	OpReconfigure Op = "reconfigure"
)

// ParseOp validates an operation name from the API or a schedule entry.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpSetTarget, OpBuild, OpClean, OpSize, OpReconfigure:
		return Op(s), nil
	}
	return "", fmt.Errorf("unknown operation: %q", s)
}

// Toolchain describes the external build program. The zero value is not
// usable; construct via New.
type Toolchain struct {
	Program  string
	ExtraEnv []string
}

func New(program string, extraEnv []string) *Toolchain {
	return &Toolchain{Program: program, ExtraEnv: extraEnv}
}

// Verify checks that the build program can be found on PATH. Called before
// a unit is created so a misconfigured host fails the submission, not the run.
func (t *Toolchain) Verify() error {
	if _, err := exec.LookPath(t.Program); err != nil {
		return fmt.Errorf("toolchain program %q not found: %w", t.Program, err)
	}
	return nil
}

// Args returns the subcommand line for an operation. The target parameter is
// only consulted for OpSetTarget.
func (t *Toolchain) Args(op Op, target string) []string {
	switch op {
	case OpSetTarget:
		return []string{"set-target", target}
	case OpBuild:
		return []string{"build"}
	case OpClean:
		return []string{"fullclean"}
	case OpSize:
		return []string{"size"}
	case OpReconfigure:
		return []string{"reconfigure"}
	}
	return nil
}

// BuildDir is where the toolchain writes binaries for a project.
func BuildDir(projectDir string) string {
	return filepath.Join(projectDir, "build")
}

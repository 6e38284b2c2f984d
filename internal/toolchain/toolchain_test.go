package toolchain

import (
	"path/filepath"
	"testing"
)

func TestParseOp(t *testing.T) {
	for _, valid := range []string{"set-target", "build", "clean", "size-report", "reconfigure"} {
		op, err := ParseOp(valid)
		if err != nil {
			t.Fatalf("ParseOp(%q) unexpected error: %v", valid, err)
		}
		if string(op) != valid {
			t.Fatalf("ParseOp(%q) = %q", valid, op)
		}
	}

	if _, err := ParseOp("flash"); err == nil {
		t.Fatal("ParseOp should reject unknown operations")
	}
}

func TestArgs(t *testing.T) {
	tc := New("idf.py", nil)

	tests := []struct {
		op     Op
		target string
		want   []string
	}{
		{OpSetTarget, "esp32s3", []string{"set-target", "esp32s3"}},
		{OpBuild, "", []string{"build"}},
		{OpClean, "", []string{"fullclean"}},
		{OpSize, "", []string{"size"}},
		{OpReconfigure, "", []string{"reconfigure"}},
	}

	for _, tt := range tests {
		got := tc.Args(tt.op, tt.target)
		if len(got) != len(tt.want) {
			t.Fatalf("Args(%s) = %v, want %v", tt.op, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Args(%s) = %v, want %v", tt.op, got, tt.want)
			}
		}
	}
}

func TestLookupTarget(t *testing.T) {
	tgt, ok := LookupTarget("esp32c3")
	if !ok {
		t.Fatal("esp32c3 should be a known target")
	}
	if tgt.ChipFamily != "ESP32-C3" {
		t.Fatalf("chip family = %q, want ESP32-C3", tgt.ChipFamily)
	}

	if _, ok := LookupTarget("esp9000"); ok {
		t.Fatal("esp9000 should not be a known target")
	}
}

func TestTargetsSorted(t *testing.T) {
	all := Targets()
	if len(all) == 0 {
		t.Fatal("no targets registered")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("targets not sorted: %s before %s", all[i-1].Name, all[i].Name)
		}
	}
}

func TestBuildDir(t *testing.T) {
	if got := BuildDir("/srv/projects/blinky"); got != filepath.Join("/srv/projects/blinky", "build") {
		t.Fatalf("BuildDir = %q", got)
	}
}

func TestVerifyMissingProgram(t *testing.T) {
	tc := New("definitely-not-a-real-binary-9f2d", nil)
	if err := tc.Verify(); err == nil {
		t.Fatal("Verify should fail for a missing program")
	}
}

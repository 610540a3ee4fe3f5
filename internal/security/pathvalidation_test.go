package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "plots")
	outsideDir := filepath.Join(tmpDir, "outside")
	for _, dir := range []string{safeDir, outsideDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(outsideDir, "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to create outside file: %v", err)
	}

	// A symlink inside the safe directory pointing out of it.
	symlinkPath := filepath.Join(safeDir, "sneaky")
	if err := os.Symlink(outsideDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"direct child", filepath.Join(safeDir, "run1"), safeDir, false},
		{"nested path not yet created", filepath.Join(safeDir, "run1", "signal.png"), safeDir, false},
		{"dotdot traversal", filepath.Join(safeDir, "..", "outside"), safeDir, true},
		{"relative traversal", "../../../etc/passwd", safeDir, true},
		{"absolute path outside", "/etc/passwd", safeDir, true},
		{"file behind symlink", filepath.Join(symlinkPath, "secret.txt"), safeDir, true},
		{"symlink itself", symlinkPath, safeDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q, %q) error = %v, wantError %v",
					tt.filePath, tt.safeDir, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	tests := []struct {
		name        string
		filePath    string
		allowedDirs []string
		wantError   bool
	}{
		{"inside first dir", filepath.Join(dirA, "capture"), []string{dirA, dirB}, false},
		{"inside second dir", filepath.Join(dirB, "capture"), []string{dirA, dirB}, false},
		{"outside both", "/etc/passwd", []string{dirA, dirB}, true},
		{"no allowed dirs", filepath.Join(dirA, "capture"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinAllowedDirs(tt.filePath, tt.allowedDirs)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinAllowedDirs(%q) error = %v, wantError %v",
					tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(os.TempDir(), "plots", "run1")); err != nil {
		t.Errorf("Expected temp dir path to be allowed, got %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := ValidateExportPath(filepath.Join(cwd, "plots", "run1")); err != nil {
		t.Errorf("Expected working dir path to be allowed, got %v", err)
	}

	if err := ValidateExportPath("/etc/crossflow-plots"); err == nil {
		t.Error("Expected path outside temp and working dir to be rejected")
	}
}

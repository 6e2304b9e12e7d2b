package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "a.nii.gz"), dir))
	assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(dir, "sub", "a.json"), dir))

	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.txt"), dir))
	assert.Error(t, ValidatePathWithinDirectory("/etc/passwd", dir))
	assert.Error(t, ValidatePathWithinDirectory(dir+"-sibling/x", dir))
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	safe := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(safe, "link")
	require.NoError(t, os.Symlink(outside, link))

	err := ValidatePathWithinDirectory(filepath.Join(link, "file.txt"), safe)
	assert.Error(t, err, "symlinked component must not escape the safe directory")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"c_spine", "c_spine"},
		{"WS-12.local", "WS-12.local"},
		{"lab pc#3", "lab_pc_3"},
		{"../../etc", "etc"},
		{"", "unknown"},
		{"///", "unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), "input %q", tc.in)
	}
}

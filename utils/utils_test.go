package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+8801712345678", NormalizePhone(" +880 1712-345678 "))
	assert.Equal(t, "5551234567", NormalizePhone("(555) 123.4567"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
}

func TestCreateDirIfNotExist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	assert.False(t, FileExist(dir))
	assert.Nil(t, CreateDirIfNotExist(dir))
	assert.True(t, FileExist(dir))

	// Calling it again is a no-op
	assert.Nil(t, CreateDirIfNotExist(dir))
}

package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDigestOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server")
	require.NoError(t, os.WriteFile(path, []byte("Hello, World!"), 0644))

	got, err := GetDigestOfFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f", got.Digest)
	assert.Equal(t, int64(13), got.Size)

	_, err = GetDigestOfFile("/non/existent/file")
	assert.Error(t, err)

	_, err = GetDigestOfFile("")
	assert.ErrorContains(t, err, "cannot be empty")
}

func TestLoadCustomCA(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCustomCA(filepath.Join(dir, "missing.pem"))
	assert.ErrorContains(t, err, "failed to read CA certificate")

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0644))
	_, err = LoadCustomCA(garbage)
	assert.ErrorContains(t, err, "failed to parse CA certificate")
}

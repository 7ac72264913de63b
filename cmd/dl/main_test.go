package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	donorlinesdk "donorline/sdk/go"
)

func TestSetEnvValueReplacesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DONORLINE_ORG=old\nOTHER=1"), 0o600))

	require.NoError(t, setEnvValue(path, "DONORLINE_ORG", "acme"))
	require.NoError(t, setEnvValue(path, "DONORLINE_JWT_SECRET", "s3cret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DONORLINE_ORG=acme\nOTHER=1\nDONORLINE_JWT_SECRET=s3cret\n", string(data))
}

func TestParseToggles(t *testing.T) {
	got := parseToggles(" meeting,DONATION ,,")
	assert.Equal(t, []donorlinesdk.ActivityToggle{
		{Type: "DONATION", Enabled: true},
		{Type: "COMMUNICATION", Enabled: false},
		{Type: "MEETING", Enabled: true},
		{Type: "TASK", Enabled: false},
	}, got)
	assert.Equal(t, "DONATION,MEETING", formatToggles(got))

	// unknown types pass through so the server can reject them
	assert.Contains(t, parseToggles("CALL"), donorlinesdk.ActivityToggle{Type: "CALL", Enabled: true})
}

func TestEnvPath(t *testing.T) {
	assert.Equal(t, filepath.Join(".", ".donorline", ".env"), envPath(""))
	assert.Equal(t, filepath.Join("ws", ".donorline", ".env"), envPath("ws"))
}

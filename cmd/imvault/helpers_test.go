// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/secretservice/memservice"
	"github.com/stretchr/testify/require"
)

// testCLI runs commands against a private config and data directory on the
// in-process memory backend.
type testCLI struct {
	t       *testing.T
	dir     string
	cfgPath string
	dataDir string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	c := &testCLI{
		t:       t,
		dir:     dir,
		cfgPath: filepath.Join(dir, "imvault.yaml"),
		dataDir: filepath.Join(dir, "data"),
	}
	content := fmt.Sprintf("data_dir: %s\nvault:\n  backend: memory\nprompt:\n  mode: \"no\"\nserver:\n  listen: 127.0.0.1:1\n", c.dataDir)
	require.NoError(t, os.WriteFile(c.cfgPath, []byte(content), 0o600))
	return c
}

func (c *testCLI) run(args ...string) (string, error) {
	c.t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", c.cfgPath}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (c *testCLI) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

// storedSecret returns the password the memory backend holds for an
// identity.
func storedSecret(protocol, username string) (string, bool) {
	id := credential.New(protocol, username)
	for _, it := range memservice.Shared().Items(memservice.DefaultLabel) {
		if id.Matches(it.Attributes) {
			return string(it.Secret), true
		}
	}
	return "", false
}

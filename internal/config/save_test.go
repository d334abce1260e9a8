package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveOverrides_CreatesNewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sub", "config.yaml")

	err := SaveOverrides(configPath, []OverrideConfig{{Path: "/tmp/build.inc", Scope: "source.makefile"}})
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "overrides:")
	assert.Contains(t, string(data), "path: /tmp/build.inc")
	assert.Contains(t, string(data), "scope: source.makefile")
}

func TestSaveOverrides_PreservesOtherConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	initial := `# my grammars
grammar_dirs:
  - /opt/grammars # shared
max_line_length: 500
overrides:
  - path: /old
    scope: source.old
watch:
  debounce: 1s
`
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0o600))

	err := SaveOverrides(configPath, []OverrideConfig{{Path: "/new", Scope: "source.new"}})
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# my grammars")
	assert.Contains(t, content, "# shared")
	assert.Contains(t, content, "max_line_length: 500")
	assert.Contains(t, content, "debounce: 1s")
	assert.Contains(t, content, "path: /new")
	assert.NotContains(t, content, "/old")

	var parsed struct {
		Overrides []OverrideConfig `yaml:"overrides"`
	}
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	require.Equal(t, []OverrideConfig{{Path: "/new", Scope: "source.new"}}, parsed.Overrides)
}

func TestSaveOverrides_AppendsSection(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("bundled: false\n"), 0o600))

	require.NoError(t, SaveOverrides(configPath, nil))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "bundled: false\noverrides: []\n", string(data))
}

func TestSaveOverrides_Errors(t *testing.T) {
	dir := t.TempDir()

	err := SaveOverrides(filepath.Join(dir, "a.yaml"), []OverrideConfig{{Path: "/x"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "scope is required")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("key: [unclosed"), 0o600))
	err = SaveOverrides(bad, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing config")

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- a\n- b\n"), 0o600))
	err = SaveOverrides(list, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a mapping")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, "test", s.Environment())
	assert.Equal(t, "info", s.LoggerLevel())
	assert.Equal(t, "us-east-2", s.AWSRegion())
	require.NoError(t, s.Validate())
}

func TestSetByAlias(t *testing.T) {
	testCases := []struct {
		alias string
		value string
		name  string
		want  string
	}{
		{"env", "PROD", Environment, "prod"},
		{"environment", "test", Environment, "test"},
		{"log", "Debug", LoggerLevel, "debug"},
		{"logging", "critical", LoggerLevel, "critical"},
		{"region", "eu-west-1", AWSRegion, "eu-west-1"},
		{"AWS_Region", "us-gov-west-1", AWSRegion, "us-gov-west-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.alias+"="+tc.value, func(t *testing.T) {
			s := Defaults()
			require.NoError(t, s.Set(tc.alias, tc.value))
			assert.Equal(t, tc.want, s.Get(tc.name))
		})
	}
}

func TestSetUnknownSetting(t *testing.T) {
	s := Defaults()
	err := s.Set("colour", "blue")
	assert.ErrorIs(t, err, ErrUnknownSetting)
	assert.Contains(t, err.Error(), "env")
}

func TestSetInvalidValue(t *testing.T) {
	s := Defaults()
	err := s.Set("env", "staging")
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, "test", s.Environment())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lp", "settings.ini")

	s := Defaults()
	require.NoError(t, s.Set("env", "prod"))
	require.NoError(t, s.Set("region", "us-west-2"))
	require.NoError(t, s.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Global]")
	assert.Contains(t, string(data), "Environment")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", loaded.Environment())
	assert.Equal(t, "us-west-2", loaded.AWSRegion())
	assert.Equal(t, "info", loaded.LoggerLevel())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestLoadMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.ini")
	require.NoError(t, os.WriteFile(path, []byte("[Global]\nEnvironment = prod\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), LoggerLevel)
}

func TestLoadInvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.ini")
	content := "[Global]\nEnvironment = staging\nLogger_Level = info\nAWS_Region = us-east-2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lp", "settings.ini")

	s, created, err := Init(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "test", s.Environment())

	require.NoError(t, s.Set("env", "prod"))
	require.NoError(t, s.Save(path))

	s, created, err = Init(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "prod", s.Environment())
}

func TestInitOverwritesInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.ini")
	require.NoError(t, os.WriteFile(path, []byte("[Global]\n"), 0o644))

	s, created, err := Init(path)
	require.NoError(t, err)
	assert.True(t, created)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Environment(), loaded.Environment())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvEnvironment, "prod")
	t.Setenv(EnvLogLevel, "DEBUG")

	s := Defaults()
	require.NoError(t, s.ApplyEnv())
	assert.Equal(t, "prod", s.Environment())
	assert.Equal(t, "debug", s.LoggerLevel())
	assert.Equal(t, "us-east-2", s.AWSRegion())

	t.Setenv(EnvRegion, "mars-north-1")
	assert.ErrorIs(t, s.ApplyEnv(), ErrInvalidValue)
}

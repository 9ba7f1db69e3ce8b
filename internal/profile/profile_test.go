package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AGENT_WORLD_STORAGE_TYPE",
		"AGENT_WORLD_DATA_PATH",
		"AGENT_WORLD_LLM_TIMEOUT_SECONDS",
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"GOOGLE_API_KEY",
		"XAI_API_KEY",
		"AZURE_OPENAI_API_KEY",
		"AZURE_RESOURCE_NAME",
		"AZURE_DEPLOYMENT",
		"AZURE_API_VERSION",
		"OPENAI_COMPATIBLE_API_KEY",
		"OPENAI_COMPATIBLE_BASE_URL",
		"OLLAMA_BASE_URL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "file", p.StorageType)
	assert.Equal(t, "http://localhost:11434", p.OllamaBaseURL)
	assert.Equal(t, "2024-02-01", p.AzureAPIVersion)
	assert.Equal(t, 30, p.LLMTimeout)
	assert.Empty(t, p.OpenAIAPIKey)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_WORLD_STORAGE_TYPE", "sqlite")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_WORLD_LLM_TIMEOUT_SECONDS", "90")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "sqlite", p.StorageType)
	assert.Equal(t, "sk-test", p.OpenAIAPIKey)
	assert.Equal(t, 90, p.LLMTimeout)
	assert.Equal(t, "http://ollama:11434", p.OllamaBaseURL)
}

func TestValidate(t *testing.T) {
	p := &Profile{Mode: "dev", StorageType: "file", Data: t.TempDir(), LLMTimeout: 30}
	require.NoError(t, p.Validate())

	// Unknown mode falls back to demo.
	p = &Profile{Mode: "weird", StorageType: "file", Data: t.TempDir(), LLMTimeout: 30}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)

	p = &Profile{Mode: "dev", StorageType: "postgres", Data: t.TempDir()}
	assert.Error(t, p.Validate())
}

func TestValidateDerivesSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "prod", StorageType: "sqlite", Data: dir}
	require.NoError(t, p.Validate())
	assert.Equal(t, filepath.Join(dir, "agentworld_prod.db"), p.DSN)
	assert.Equal(t, 30, p.LLMTimeout)
}

func TestValidateCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	p := &Profile{Mode: "dev", StorageType: "file", Data: dir, LLMTimeout: 30}
	require.NoError(t, p.Validate())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestIsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}

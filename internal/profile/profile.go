package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM provider credentials. Read once at startup; the provider
	// registry treats them as immutable afterwards.
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	GoogleAPIKey      string
	XAIAPIKey         string
	AzureAPIKey       string
	AzureResourceName string
	AzureDeployment   string
	AzureAPIVersion   string
	CompatAPIKey      string // generic OpenAI-compatible endpoint
	CompatBaseURL     string
	OllamaBaseURL     string

	// LLMTimeout bounds one outer LLM pipeline attempt, in seconds.
	LLMTimeout int

	Mode        string // prod, dev, demo
	Addr        string
	Port        int
	Data        string // data directory for the file backend
	StorageType string // file, sqlite
	DSN         string
	Version     string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.StorageType == "" {
		p.StorageType = getEnvOrDefault("AGENT_WORLD_STORAGE_TYPE", "file")
	}
	if p.Data == "" {
		p.Data = getEnvOrDefault("AGENT_WORLD_DATA_PATH", "")
	}

	p.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	p.AnthropicAPIKey = getEnvOrDefault("ANTHROPIC_API_KEY", "")
	p.GoogleAPIKey = getEnvOrDefault("GOOGLE_API_KEY", "")
	p.XAIAPIKey = getEnvOrDefault("XAI_API_KEY", "")
	p.AzureAPIKey = getEnvOrDefault("AZURE_OPENAI_API_KEY", "")
	p.AzureResourceName = getEnvOrDefault("AZURE_RESOURCE_NAME", "")
	p.AzureDeployment = getEnvOrDefault("AZURE_DEPLOYMENT", "")
	p.AzureAPIVersion = getEnvOrDefault("AZURE_API_VERSION", "2024-02-01")
	p.CompatAPIKey = getEnvOrDefault("OPENAI_COMPATIBLE_API_KEY", "")
	p.CompatBaseURL = getEnvOrDefault("OPENAI_COMPATIBLE_BASE_URL", "")
	p.OllamaBaseURL = getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434")

	p.LLMTimeout = getEnvOrDefaultInt("AGENT_WORLD_LLM_TIMEOUT_SECONDS", 30)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(dataDir, 0o770); err != nil {
			return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
		}
	} else if err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.StorageType != "file" && p.StorageType != "sqlite" {
		return errors.Errorf("unsupported storage type %q, expected file or sqlite", p.StorageType)
	}

	if p.Data == "" {
		p.Data = filepath.Join(".", "agent-world-data")
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.StorageType == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("agentworld_%s.db", p.Mode))
	}

	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 30
	}

	return nil
}

package client

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/solvenia/kbcore/internal/ingest"
	"github.com/spf13/cobra"
)

const (
	envAPIKey = "KBCORE_API_KEY"
	envAPIURL = "KBCORE_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

// newStoreClient builds an ingest.StoreClient with config cascade:
// flag, then environment, then global config, then default.
func newStoreClient(cmd *cobra.Command) (*ingest.StoreClient, error) {
	_ = godotenv.Load()

	var apiKey, baseURL string

	if cmd != nil {
		if flagKey, err := cmd.Flags().GetString("api-key"); err == nil && flagKey != "" {
			apiKey = flagKey
		}
		if flagURL, err := cmd.Flags().GetString("api-url"); err == nil && flagURL != "" {
			baseURL = flagURL
		}
	}

	if apiKey == "" {
		apiKey = os.Getenv(envAPIKey)
	}
	if baseURL == "" {
		baseURL = os.Getenv(envAPIURL)
	}

	if apiKey == "" || baseURL == "" {
		globalConfig, err := LoadGlobalConfig()
		if err != nil {
			return nil, err
		}
		if globalConfig != nil {
			if apiKey == "" && globalConfig.APIKey != "" {
				apiKey = globalConfig.APIKey
			}
			if baseURL == "" && globalConfig.APIURL != "" {
				baseURL = globalConfig.APIURL
			}
		}
	}

	if apiKey == "" {
		return nil, fmt.Errorf("%s not set (run 'kbcore init' or set environment variable)", envAPIKey)
	}

	if baseURL == "" {
		baseURL = defaultAPIURL
	}

	return ingest.NewStoreClient(ingest.StoreClientConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
	}), nil
}

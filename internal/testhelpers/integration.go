//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/cnweather/internal/cache"
	"github.com/kjstillabower/cnweather/internal/client"
	"github.com/kjstillabower/cnweather/internal/config"
	"github.com/kjstillabower/cnweather/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	AppID  string
	AppKey string
	APIURL string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_APP_ID or WEATHER_APP_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	appID := os.Getenv("WEATHER_APP_ID")
	appKey := os.Getenv("WEATHER_APP_KEY")
	if appID == "" || appKey == "" {
		t.Skip("WEATHER_APP_ID/WEATHER_APP_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = config.DefaultWeatherAPIURL
	}

	return IntegrationTestConfig{AppID: appID, AppKey: appKey, APIURL: apiURL}
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.TianqiClient {
	t.Helper()
	c, err := client.NewTianqiClient(cfg.APIURL, cfg.AppID, cfg.AppKey, 10*time.Second)
	if err != nil {
		t.Fatalf("NewTianqiClient() error = %v", err)
	}
	return c
}

// SetupIntegrationOrchestrator creates an orchestrator against the live API with
// a fresh cache. It is closed when the test ends.
func SetupIntegrationOrchestrator(t *testing.T, cfg IntegrationTestConfig, events service.Events) *service.Orchestrator {
	t.Helper()
	orch := service.NewOrchestrator(SetupIntegrationClient(t, cfg), service.Options{
		Cache:  cache.NewResultCache(cache.DefaultTTL),
		Logger: zaptest.NewLogger(t),
		Events: events,
	})
	t.Cleanup(orch.Close)
	return orch
}

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/finder"
	"reclameaqui-pipeline/internal/objectstore"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"
	"reclameaqui-pipeline/pkg/configutil"
)

type StoreConfig struct {
	Endpoint  string              `json:"endpoint"`
	AccessKey string              `json:"access_key"`
	SecretKey string              `json:"secret_key"`
	Secure    bool                `json:"secure"`
	Region    string              `json:"region"`
	Buckets   objectstore.Buckets `json:"buckets"`
	CacheSize int                 `json:"cache_size"`
}

type HttpConfig struct {
	TimeoutSeconds int               `json:"timeout_seconds"`
	Hosts          reclameaqui.Hosts `json:"hosts"`
	// PacingMs overrides the minimum interval between two calls of an
	// endpoint, keyed by endpoint name.
	PacingMs   map[string]int `json:"pacing_ms"`
	UserAgents []string       `json:"user_agents"`
}

type PipelineConfig struct {
	MaxCategories   int `json:"max_categories"`
	MaxCompanies    int `json:"max_companies"`
	Workers         int `json:"workers"`
	RankingPageSize int `json:"ranking_page_size"`
}

type Config struct {
	Store     StoreConfig      `json:"store"`
	Http      HttpConfig       `json:"http"`
	Pipeline  PipelineConfig   `json:"pipeline"`
	Finder    finder.Options   `json:"finder"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Buckets:   objectstore.DefaultBuckets(),
			CacheSize: 128,
		},
		Http: HttpConfig{
			TimeoutSeconds: 30,
			Hosts:          reclameaqui.DefaultHosts(),
			UserAgents:     reclameaqui.DefaultUserAgents,
		},
		Pipeline: PipelineConfig{
			MaxCategories:   2,
			MaxCompanies:    3,
			Workers:         2,
			RankingPageSize: 20,
		},
		Finder: finder.DefaultOptions(),
	}
}

// loadConfig reads the config file if one can be found, every field left
// empty falls back to its default.
func loadConfig(name string) (Config, error) {
	cfg, err := configutil.ReadRecursively[Config](name)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file found, using defaults", "name", name)
		err = nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	err = configutil.ApplyDefaults(&cfg, defaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}
	return cfg, nil
}

func (c HttpConfig) pacing() map[string]time.Duration {
	out := map[string]time.Duration{}
	for name, ms := range c.PacingMs {
		out[name] = time.Duration(ms) * time.Millisecond
	}
	return out
}

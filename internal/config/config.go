// Package config loads service-level settings for the mongostopo demo
// binary from the environment. The topology manager's own tuning
// parameters (internal/topology.Options) are a programmatic constructor
// argument, not an env-loaded struct — this only covers the demo
// service wrapping it.
package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds the demo service's environment-derived configuration.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8090"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// SeedDiscovery selects how the initial seed list is obtained:
	// "static", "docker", or "kubernetes".
	SeedDiscovery string `envconfig:"SEED_DISCOVERY" default:"static"`
	SeedFile      string `envconfig:"SEED_FILE" default:"seeds.yaml"`

	DockerHost      string `envconfig:"DOCKER_HOST" default:""`
	DockerLabel     string `envconfig:"DOCKER_LABEL" default:"com.mongostopo.role=mongos"`
	K8sNamespace    string `envconfig:"K8S_NAMESPACE" default:"default"`
	K8sServiceName  string `envconfig:"K8S_SERVICE_NAME" default:"mongos"`
	K8sPollInterval int    `envconfig:"K8S_POLL_INTERVAL_SECONDS" default:"30"`

	HaIntervalMS     int `envconfig:"HA_INTERVAL_MS" default:"10000"`
	LocalThresholdMS int `envconfig:"LOCAL_THRESHOLD_MS" default:"15"`
}

// Cfg is the process-wide settings instance, populated by Load.
var Cfg Settings

// Load parses environment variables prefixed MONGOSTOPO_ into Cfg.
func Load() {
	if err := envconfig.Process("MONGOSTOPO", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

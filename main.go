// Command mongostopo runs a small demo service around the topology
// manager: it discovers a seed list, connects a Topology to it, logs
// membership events, and exposes a read-only status API.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/mongostopo/internal/config"
	"github.com/gluk-w/mongostopo/internal/logging"
	"github.com/gluk-w/mongostopo/internal/logutil"
	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	"github.com/gluk-w/mongostopo/internal/seeddiscovery"
	"github.com/gluk-w/mongostopo/internal/statusapi"
	"github.com/gluk-w/mongostopo/internal/topology"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	config.Load()
	logging.Init(config.Cfg.LogPath)

	seeds, err := discoverSeeds()
	if err != nil {
		log.Fatalf("seed discovery: %v", err)
	}
	log.Printf("discovered %d seed(s) via %s", len(seeds), config.Cfg.SeedDiscovery)

	topo := topology.New(seeds, topology.Options{
		HaInterval:       time.Duration(config.Cfg.HaIntervalMS) * time.Millisecond,
		LocalThresholdMS: int64(config.Cfg.LocalThresholdMS),
		Debug:            true,
	})

	topo.OnAny(func(name string, payload any) {
		// Event payloads carry peer-supplied strings (hostnames, error
		// text); strip control characters before they reach the log.
		log.Printf("topology event: %s %s", name, logutil.SanitizeForLog(fmt.Sprintf("%+v", payload)))
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := topo.Connect(sigCtx, topology.ConnectOptions{}); err != nil {
		log.Fatalf("initial connect: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Mount("/", statusapi.New(topo).Routes())

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("status API listening on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")

	topo.Destroy()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	log.Println("stopped")
}

func discoverSeeds() ([]proxyhandle.Seed, error) {
	switch config.Cfg.SeedDiscovery {
	case "docker":
		p, err := seeddiscovery.NewDockerProvider(config.Cfg.DockerHost, config.Cfg.DockerLabel)
		if err != nil {
			return nil, err
		}
		return p.List(context.Background())
	case "kubernetes":
		p, err := seeddiscovery.NewKubernetesProvider(config.Cfg.K8sNamespace, config.Cfg.K8sServiceName)
		if err != nil {
			return nil, err
		}
		return p.List(context.Background())
	default:
		return seeddiscovery.LoadStatic(config.Cfg.SeedFile)
	}
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/gateway"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("API Gateway %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	log.Printf("Starting API Gateway %s", version)
	log.Printf("Configuration loaded from %s", *configPath)
	log.Printf("Discovery control plane: %s", cfg.Discovery.ControlPlaneURL)
	log.Printf("Routes configured: %d", len(cfg.Routes))

	server, err := gateway.NewServerWithConfigPath(cfg, *configPath)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

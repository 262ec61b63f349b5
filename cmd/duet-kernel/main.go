package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/fernwer/Duet/config"
	"github.com/fernwer/Duet/kernel"
	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/transport"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize metrics
	metrics.Init()

	// Start metrics HTTP server with pprof
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("Metrics endpoint at http://localhost%s/metrics", cfg.Metrics.Listen)
		log.Printf("Pprof endpoints at http://localhost%s/debug/pprof/", cfg.Metrics.Listen)
		if err := http.ListenAndServe(cfg.Metrics.Listen, nil); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	k, err := kernel.Open(context.Background(), cfg.KernelOptions())
	if err != nil {
		log.Fatalf("Failed to open kernel: %v", err)
	}
	log.Printf("[Kernel] Connected to %s (plan cache size %d)", cfg.Kernel.Driver, cfg.Kernel.PlanCacheSize)

	server := transport.NewServer(cfg.Kernel.Listen, k)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start kernel server: %v", err)
	}

	log.Println("Duet kernel started. Press Ctrl+C to stop. Send SIGHUP to flush the plan cache.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			k.Plans().Clear()
			log.Println("Plan cache cleared")

		case syscall.SIGINT, syscall.SIGTERM:
			log.Println("Shutting down...")
			server.Close()
			if err := k.Close(); err != nil {
				log.Printf("Kernel close error: %v", err)
			}
			return
		}
	}
}

package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// StartTime is the process's boot time, exposed for uptime reporting.
var StartTime time.Time

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration file")
	flag.Parse()

	StartTime = time.Now()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Main] failed to load config: %v", err)
	}

	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics()
		go func() {
			log.Printf("[Main] prometheus metrics listening on %s", config.Prometheus.Listen)
			if err := ServeMetrics(config.Prometheus.Listen); err != nil && err != http.ErrServerClosed {
				log.Printf("[Main] prometheus server error: %v", err)
			}
		}()
	}

	sessions := NewSessionManager(config.Server.MaxDevices, 30*time.Minute)
	wsHandler := NewWebSocketHandler(config, sessions, metrics)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: mux,
	}

	go func() {
		log.Printf("[Main] control surface listening on %s", config.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] control surface error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("[Main] shutting down")
}

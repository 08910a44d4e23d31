package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/avshenoy/masterline/pkg/masterline"
)

var (
	port           int
	dbPath         string
	remoteURL      string
	workers        int
	fastPath       bool
	allowedOrigins string
)

func init() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("MASTERLINE_DB_PATH", "masterline.sqlite3"), "Path to SQLite fingerprint store")
	flag.StringVar(&remoteURL, "remote", getEnvOrDefault("MASTERLINE_REMOTE_URL", ""), "Upstream fingerprint service base URL (optional)")
	flag.IntVar(&workers, "workers", 4, "Worker pool size for CPU fingerprint extraction")
	flag.BoolVar(&fastPath, "fast", true, "Use the accelerated batch executor when available")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	opts := []masterline.Option{
		masterline.WithDBPath(dbPath),
		masterline.WithWorkers(workers),
		masterline.WithFastPath(fastPath),
	}
	if remoteURL != "" {
		opts = append(opts, masterline.WithRemote(remoteURL, 0))
	}

	service, err := masterline.NewService(opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		AllowedOrigins: origins,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

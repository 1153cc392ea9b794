package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/server"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
)

var (
	libsqlURL       = flag.String("libsql-url", "", "Database URL (default: file:./sqlcore.db); postgres:// URLs use lib/pq")
	authToken       = flag.String("auth-token", "", "Authentication token for remote libSQL databases")
	cacheSize       = flag.String("stmt-cache-size", "", "Statement cache: unbounded, disabled or a positive capacity")
	maxConns        = flag.Int("max-conns", 0, "Maximum pooled connections")
	savepointPrefix = flag.String("savepoint-prefix", "", "Prefix for generated savepoint names")
	transport       = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr            = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint     = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, closing server...")
		cancel()
	}()

	config := database.NewConfig()

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *libsqlURL != "" {
		config.URL = *libsqlURL
	}
	if *authToken != "" {
		config.AuthToken = *authToken
	}
	if *cacheSize != "" {
		size, err := stmtcache.ParseCacheSize(*cacheSize)
		if err != nil {
			log.Fatalf("Invalid -stmt-cache-size: %v", err)
		}
		config.CacheSize = size
	}
	if *maxConns > 0 {
		config.MaxConns = *maxConns
	}
	if *savepointPrefix != "" {
		config.SavepointPrefix = *savepointPrefix
	}

	pool, err := database.Open(ctx, config)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	mcpServer := server.NewMCPServer(pool)
	defer mcpServer.Close()

	log.Printf("Starting sqlcore MCP server (%s, statement cache %s)...", pool.Backend().Name(), config.CacheSize)
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.Printf("Server error: %v", err)
			}
			cancel()
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Printf("SSE server error: %v", err)
			}
			cancel()
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", *transport)
	}

	<-ctx.Done()

	log.Println("Server stopped")
}

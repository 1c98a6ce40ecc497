// Package main provides the lightweight entry point for the IRIS CKD MCP server.
// This version requires no external databases: it caches literature in memory
// and journals consultations to SQLite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/iris-ckd-mcp-server/internal/config"
	"github.com/iris-ckd-mcp-server/internal/mcp"
	"github.com/iris-ckd-mcp-server/internal/setup"
)

func main() {
	// setup registers this binary with a desktop MCP client
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := runSetup(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	cfg, err := config.LoadLiteConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// stdout carries the MCP stream on the stdio transport
	log.SetOutput(os.Stderr)
	log.Printf("Starting IRIS CKD MCP Server (Lite) with transport: %s", cfg.Transport)
	log.Printf("Data directory: %s", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := mcp.NewLiteServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil {
		log.Printf("MCP server failed: %v", err)
		return
	}

	log.Println("IRIS CKD MCP Server (Lite) stopped")
}

func runSetup() error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	path, err := setup.Configure(setup.Options{
		BinaryPath: binary,
		DataDir:    os.Getenv(setup.DataDirEnv),
		GeminiKey:  os.Getenv("GEMINI_API_KEY"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s in %s\nRestart the desktop client to load it.\n", setup.ServerKey, path)
	return nil
}

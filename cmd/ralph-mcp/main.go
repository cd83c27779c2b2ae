package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/martinemde/ralph/config"
	"github.com/martinemde/ralph/internal/logger"
	"github.com/martinemde/ralph/internal/mcptools"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// MCP uses stdout, so logs go to stderr.
	log := logger.New(cfg.LogLevel, os.Stderr)

	s := server.NewMCPServer(
		"ralph",
		"0.1.0",
		server.WithLogging(),
	)
	mcptools.Register(s, mcptools.NewHandlers(cfg, log))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/lgulliver/cliniprompt/pkg/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	deps := &Dependencies{Config: cfg, Out: os.Stdout}
	if err := NewRootCmd(deps).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

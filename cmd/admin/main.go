package main

import (
	"os"

	"github.com/onir-world/legal-chat-backend/internal/cli"
	"github.com/onir-world/legal-chat-backend/internal/logging"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logging.Setup(level)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"os"

	"FinTreasury/internal/di"
	"FinTreasury/pkg/config"
	applogger "FinTreasury/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(2)
	}

	boot, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "fintreasury"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	boot.Info("starting",
		applogger.String("env", cfg.Environment),
		applogger.String("store", cfg.Store.Type),
		applogger.String("manager", cfg.Manager.Address),
	)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error("wire app", applogger.Error(err))
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		boot.Error("app stopped", applogger.Error(err))
		os.Exit(1)
	}
}

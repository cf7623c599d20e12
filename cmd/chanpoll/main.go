package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/abrezinsky/chanpoll/internal/app"
	"github.com/abrezinsky/chanpoll/internal/config"
	"github.com/abrezinsky/chanpoll/internal/logger"
)

func main() {
	// A .env file is optional; environment variables win regardless.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	addr := flag.String("addr", cfg.BindAddr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "account directory database path")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	prefix := flag.String("prefix", cfg.CommandPrefix, "chat command prefix")
	noQR := flag.Bool("no-qr", false, "skip printing the gateway QR code")
	flag.Parse()

	cfg.BindAddr = *addr
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel
	cfg.CommandPrefix = *prefix

	lg := logger.NewWithLevel(logger.ParseLevel(cfg.LogLevel))

	a, err := app.New(lg, cfg)
	if err != nil {
		lg.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	gatewayURL := fmt.Sprintf("ws://localhost%s/ws", cfg.BindAddr)
	if !*noQR {
		printGatewayQR(gatewayURL)
	}
	lg.Info("gateway endpoint", "url", gatewayURL)

	if err := a.Run(cfg.BindAddr); err != nil {
		lg.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// printGatewayQR renders a terminal QR code for the gateway URL so a
// transport adapter on another machine can be pointed at it quickly.
func printGatewayQR(url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Print(qr.ToSmallString(false))
	fmt.Printf("  %s\n\n", url)
}

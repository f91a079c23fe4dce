package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"roadscan/internal/app"
	"roadscan/internal/config"
	"roadscan/internal/logger"
)

func main() {
	input := flag.String("input", "", "input video or image (overrides INPUT_PATH)")
	output := flag.String("output", "", "annotated output path (overrides OUTPUT_PATH)")
	mode := flag.String("mode", "video", "video or image")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *input != "" {
		cfg.InputPath = *input
	}
	if *output != "" {
		cfg.OutputPath = *output
	}

	appLogger, err := logger.NewLogger(cfg.LogDirectory, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Close()

	application, err := app.NewApp(cfg, appLogger)
	if err != nil {
		appLogger.Error("%v", err)
		os.Exit(2)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result any
	switch *mode {
	case "video":
		result, err = application.Run(ctx)
	case "image":
		result, err = application.RunImage(ctx)
	default:
		appLogger.Error("unknown mode %q", *mode)
		os.Exit(2)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if encErr := encoder.Encode(result); encErr != nil {
		appLogger.Error("Failed to write result: %v", encErr)
	}

	if err != nil {
		appLogger.Error("Run failed: %v", err)
		stop()
		application.Close()
		appLogger.Close()
		os.Exit(1)
	}
}

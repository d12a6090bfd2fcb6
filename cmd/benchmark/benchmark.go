package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/go-tagger/benchmark"
	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/inference"
	"github.com/nvr-ai/go-tagger/logging"
)

func main() {
	parser := argparse.NewParser("benchmark", "Measure forward-pass throughput of the configured checkpoint")
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	iterations := parser.Int("n", "iterations", &argparse.Options{Help: "Timed passes per scenario", Default: 20})
	outputDir := parser.String("o", "output", &argparse.Options{Help: "Directory for the results file", Default: "benchmark_results"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if err := run(*configPath, *iterations, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, iterations int, outputDir string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg, "benchmark")
	if err != nil {
		return err
	}
	defer logger.Close()

	model, _, err := inference.LoadModel(cfg, logger)
	if err != nil {
		return err
	}
	defer model.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	suite := benchmark.NewSuite(model, cfg, logger)
	for _, s := range benchmark.DefaultScenarios(cfg, iterations) {
		suite.AddScenario(s)
	}
	if err := suite.RunAll(ctx); err != nil {
		return err
	}

	path, err := suite.SaveResults(outputDir, time.Now())
	if err != nil {
		return err
	}
	logger.WithField("path", path).Info("saved benchmark results")
	return nil
}

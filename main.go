package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/dataset"
	"github.com/nvr-ai/go-tagger/driver"
	"github.com/nvr-ai/go-tagger/evaluation"
	"github.com/nvr-ai/go-tagger/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	parser := argparse.NewParser("tagger", "Run inference on images or videos")
	inputPath := parser.StringPositional(&argparse.Options{Help: "Path to an input image, directory of images, or video file", Required: true})
	outputFolder := parser.String("o", "output_folder", &argparse.Options{Help: "Path to save the output predictions (default: <input parent>/inference_outputs)"})
	timeInterval := parser.Float("t", "time_interval", &argparse.Options{Help: "Interval in seconds of how frequently to process frames from a video", Default: driver.DefaultTimeInterval})
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	threshold := parser.Float("", "threshold", &argparse.Options{Help: "Probability cutoff for a tag; negative uses the config value", Default: float64(evaluation.ConfigThreshold)})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if err := run(*inputPath, *outputFolder, *configPath, *timeInterval, float32(*threshold)); err != nil {
		fmt.Fprintf(os.Stderr, "inference failed: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath, outputFolder, configPath string, timeInterval float64, threshold float32) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg, "inference")
	if err != nil {
		return err
	}
	defer logger.Close()

	input := driver.Resolve(inputPath)
	switch input.Kind {
	case driver.KindUnsupported, driver.KindInvalid:
		// Reported, not fatal.
		logger.WithField("input", inputPath).Errorf("nothing to do: %s input", input.Kind)
		return nil
	}

	if outputFolder == "" {
		outputFolder = driver.DefaultOutputDir(inputPath)
	}

	// Tag names come from the training label table.
	tags, err := dataset.NewCache(logger).TagMappings(cfg)
	if err != nil {
		return err
	}

	evaluator, err := evaluation.FromFile(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer evaluator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := driver.Options{
		OutputDir:    outputFolder,
		TimeInterval: timeInterval,
		Tags:         tags,
	}
	if threshold >= 0 {
		opts.Threshold = evaluation.Threshold(threshold)
	}
	d := driver.New(evaluator, cfg, opts, logger)

	outputs, err := d.Run(ctx, input)
	if errors.Is(err, driver.ErrUnsupportedInput) || errors.Is(err, driver.ErrInvalidInput) {
		logger.WithError(err).Error("nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"output_folder": outputFolder,
		"outputs":       len(outputs),
	}).Info("saved annotated outputs")
	return nil
}

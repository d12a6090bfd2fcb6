package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/go-tagger/board"
	"github.com/nvr-ai/go-tagger/config"
	"github.com/nvr-ai/go-tagger/dataset"
	"github.com/nvr-ai/go-tagger/evaluation"
	"github.com/nvr-ai/go-tagger/logging"
	"github.com/nvr-ai/go-tagger/metrics"
	"github.com/sirupsen/logrus"
)

func main() {
	parser := argparse.NewParser("evaluate", "Evaluate a trained checkpoint against a dataset split")
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	subset := parser.Selector("s", "subset", []string{"train", "valid", "test"}, &argparse.Options{Help: "Dataset split to evaluate", Default: "test"})
	mode := parser.String("m", "mode", &argparse.Options{Help: "Name of the run in board tags", Default: "Eval"})
	threshold := parser.Float("", "threshold", &argparse.Options{Help: "Probability cutoff for a tag; negative uses the config value", Default: float64(evaluation.ConfigThreshold)})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if err := run(*configPath, *subset, *mode, float32(*threshold)); err != nil {
		fmt.Fprintf(os.Stderr, "evaluation failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, subset, mode string, threshold float32) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if threshold < 0 {
		threshold = cfg.Threshold
	}

	logger, err := logging.New(cfg, "evaluate")
	if err != nil {
		return err
	}
	defer logger.Close()

	split, err := dataset.ParseMode(subset)
	if err != nil {
		return err
	}
	cache := dataset.NewCache(logger)
	tags, err := cache.TagMappings(cfg)
	if err != nil {
		return err
	}
	loader, err := cache.LoaderByName(split, cfg, false)
	if err != nil {
		return err
	}

	writer, err := board.New(cfg, tags, logger)
	if err != nil {
		return err
	}
	evaluator, err := evaluation.FromFile(cfg, writer, logger)
	if err != nil {
		writer.Close()
		return err
	}
	defer evaluator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	preds, err := evaluator.Predict(ctx, loader)
	if err != nil {
		return err
	}

	step := evaluator.Epochs()
	micro, err := evaluator.EvaluatePredictions(ctx, loader, preds, evaluation.EvalArgs{
		Step:       step,
		Subset:     subset,
		MetricMode: mode,
		Average:    metrics.AverageMicro,
		Threshold:  evaluation.Threshold(threshold),
	})
	if err != nil {
		return err
	}
	macro, err := evaluator.EvaluatePredictions(ctx, loader, preds, evaluation.EvalArgs{
		Average:   metrics.AverageMacro,
		Threshold: evaluation.Threshold(threshold),
	})
	if err != nil {
		return err
	}
	perClass, err := evaluator.EvaluatePredictions(ctx, loader, preds, evaluation.EvalArgs{
		Average:   metrics.AverageNone,
		Threshold: evaluation.Threshold(threshold),
	})
	if err != nil {
		return err
	}

	precision, recall, f1 := micro.Value()
	macroPrecision, macroRecall, macroF1 := macro.Value()
	logger.WithFields(logrus.Fields{
		"subset":          subset,
		"loss":            preds.AvgLoss,
		"f1":              f1,
		"precision":       precision,
		"recall":          recall,
		"macro_f1":        macroF1,
		"macro_precision": macroPrecision,
		"macro_recall":    macroRecall,
	}).Info("evaluation complete")
	for i, v := range perClass.F1 {
		logger.WithFields(logrus.Fields{"tag": tags[i], "f1": v}).Debug("per-class score")
	}

	prefix := mode + "/" + subset + "/"
	for tag, v := range map[string]float64{
		"Loss":      preds.AvgLoss,
		"F1":        f1,
		"Precision": precision,
		"Recall":    recall,
	} {
		if err := writer.AddScalar(prefix+tag, v, step); err != nil {
			return err
		}
	}
	if err := writer.AddHistogram(prefix+"F1 per class", perClass.F1, step); err != nil {
		return err
	}
	return writer.AddHparams(map[string]any{
		"model_name":    cfg.ModelName,
		"model_weights": cfg.ModelWeights,
		"image_size":    cfg.ImageSize,
		"batch_size":    cfg.BatchSize,
		"threshold":     threshold,
		"epochs":        step,
	}, map[string]float64{
		"hparam/f1":       f1,
		"hparam/macro_f1": macroF1,
		"hparam/loss":     preds.AvgLoss,
	})
}

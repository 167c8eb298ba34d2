// Command tune runs one hyperparameter study from the command line and
// appends its results to the CSV sinks.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/hypertune/internal/config"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/models"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
	"github.com/copyleftdev/hypertune/internal/study"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune a regression model with TPE and k-fold cross validation",
		Long: `tune loads a CSV dataset, holds out a test split, searches the model's
hyperparameters with the Tree-structured Parzen Estimator and appends the
refit metrics and best parameters to CSV files.

Flags override the STUDY_* environment settings.`,
		SilenceUsage: true,
		RunE:         runTune,
	}

	f := cmd.Flags()
	f.String("dataset", "", "CSV dataset to load")
	f.String("target", "", "target column")
	f.StringSlice("features", nil, "feature columns (comma separated)")
	f.String("model", "", "model to tune: "+strings.Join(models.Names(), ", "))
	f.String("space", "", "YAML search space file (defaults to the model's space)")
	f.Int("trials", 0, "trial budget")
	f.Int("folds", 0, "cross validation folds")
	f.Int64("seed", 0, "random seed")
	f.Duration("timeout", 0, "stop the search after this long and keep the best so far")
	f.Int("warmup", 0, "random trials before the density model is used (0 disables warm-up)")
	f.String("bandwidth", "", "kernel bandwidth rule: "+strings.Join([]string{kernels.NeighborRule, kernels.ScottRule, kernels.SilvermanRule}, ", "))
	f.String("metrics-out", "", "model performance CSV")
	f.String("params-out", "", "best parameters CSV")
	f.Bool("json", false, "print the result as JSON")
	return cmd
}

// applyFlags overlays the flags the user set on the environment settings.
func applyFlags(cmd *cobra.Command, s *config.StudyConfig) {
	f := cmd.Flags()
	if f.Changed("dataset") {
		s.Dataset, _ = f.GetString("dataset")
	}
	if f.Changed("target") {
		s.Target, _ = f.GetString("target")
	}
	if f.Changed("features") {
		s.Features, _ = f.GetStringSlice("features")
	}
	if f.Changed("model") {
		s.Model, _ = f.GetString("model")
	}
	if f.Changed("space") {
		s.SpaceFile, _ = f.GetString("space")
	}
	if f.Changed("trials") {
		s.Trials, _ = f.GetInt("trials")
	}
	if f.Changed("folds") {
		s.Folds, _ = f.GetInt("folds")
	}
	if f.Changed("seed") {
		s.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("timeout") {
		s.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("warmup") {
		s.Warmup, _ = f.GetInt("warmup")
	}
	if f.Changed("bandwidth") {
		s.Bandwidth, _ = f.GetString("bandwidth")
	}
	if f.Changed("metrics-out") {
		s.MetricsPath, _ = f.GetString("metrics-out")
	}
	if f.Changed("params-out") {
		s.ParamsPath, _ = f.GetString("params-out")
	}
}

func runTune(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cmd, &cfg.Study)

	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := study.Setup(study.Spec{
		StudyConfig: cfg.Study,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, cfg.Study.Trials)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	return printResult(cmd.OutOrStdout(), cfg.Study, result, asJSON)
}

func printResult(w io.Writer, s config.StudyConfig, r *study.BestResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Model:        %s (%s)\n", s.ModelName, s.ModelCategory)
	fmt.Fprintf(w, "Trials:       %d (%d failed)\n", r.Trials, r.Failed)
	if r.Truncated {
		fmt.Fprintf(w, "              stopped early after %v\n", s.Timeout)
	}
	fmt.Fprintf(w, "CV loss:      %g\n", r.Loss)
	fmt.Fprintln(w, "Parameters:")
	for _, name := range r.Configuration.Names() {
		v, _ := r.Configuration.Get(name)
		fmt.Fprintf(w, "  %-20s %s\n", name, v)
	}
	m := r.Metrics
	fmt.Fprintf(w, "Refit:        MSE=%g RMSE=%g MAE=%g R2=%g MAPE=%g\n", m.MSE, m.RMSE, m.MAE, m.R2, m.MAPE)
	if h := r.HoldoutMetrics; h != nil {
		fmt.Fprintf(w, "Holdout:      MSE=%g RMSE=%g MAE=%g R2=%g MAPE=%g\n", h.MSE, h.RMSE, h.MAE, h.R2, h.MAPE)
	}
	fmt.Fprintf(w, "Completed in: %v\n", r.TotalDuration)
	return nil
}

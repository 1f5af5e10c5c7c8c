package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "demandcast",
		Short:         "Daily per-item demand forecasting from point-of-sale history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before env overrides")

	root.AddCommand(initCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(sampleCmd())
	root.AddCommand(featuresCmd())
	root.AddCommand(trainCmd())
	root.AddCommand(forecastCmd())
	root.AddCommand(runCmd())
	root.AddCommand(viewCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(daemonCmd())

	return root
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and model directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func ingestCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "ingest <export.csv|export.xlsx>",
		Short: "Load a HIPOS daily sales export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(args[0], date)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "sales date YYYY-MM-DD (default: today)")
	return cmd
}

func sampleCmd() *cobra.Command {
	var (
		items int
		days  int
		seed  int64
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate synthetic sales history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(items, days, seed)
		},
	}

	cmd.Flags().IntVar(&items, "items", 3, "number of items")
	cmd.Flags().IntVar(&days, "days", 60, "days of history ending yesterday")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: time based)")
	return cmd
}

func featuresCmd() *cobra.Command {
	var (
		out   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Build the feature table from stored sales",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeatures(out, limit)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "write the full table as CSV to this file")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to print (most recent)")
	return cmd
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit the model on all stored sales and replace the live artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain()
		},
	}
}

func forecastCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast every item over the configured horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForecast(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once (predict or retrain)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(mode)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "predict", "predict (forecast only) or retrain (retrain + forecast)")
	return cmd
}

func viewCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
		itemID     int64
		runID      string
	)

	cmd := &cobra.Command{
		Use:       "view <items|sales|forecasts|runs|summary>",
		Short:     "Show stored data",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"items", "sales", "forecasts", "runs", "summary"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(args[0], viewOpts{json: jsonOutput, limit: limit, itemID: itemID, runID: runID})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to show")
	cmd.Flags().Int64Var(&itemID, "item", 0, "filter sales by item id")
	cmd.Flags().StringVar(&runID, "run", "", "forecast run id (default: latest)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func daemonCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the scheduled pipeline and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

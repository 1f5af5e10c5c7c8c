package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/demandcast/internal/config"
	"github.com/elonfeng/demandcast/internal/logger"
	"github.com/elonfeng/demandcast/internal/pipeline"
	"github.com/elonfeng/demandcast/internal/scheduler"
	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/calendar"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/forecast"
	"github.com/elonfeng/demandcast/pkg/ingest"
	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/elonfeng/demandcast/pkg/notify"
	"github.com/elonfeng/demandcast/pkg/server"
	"github.com/elonfeng/demandcast/pkg/training"
	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *store.SQLiteStore
	slot      *model.Slot
	builder   *features.Builder
	trainer   *training.Trainer
	generator *forecast.Generator
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := model.DefaultRegistry()
	slot := model.NewSlot(cfg.Paths.ModelDir, registry)
	builder := features.NewBuilder(features.Config{}, log)

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		slot:    slot,
		builder: builder,
		trainer: training.NewTrainer(db, registry, slot, training.Config{
			ModelType: cfg.Model.Type,
			Fallback:  cfg.Model.Fallback,
			Params:    cfg.Model.Params,
		}, log),
		generator: forecast.NewGenerator(db, slot, builder, cfg.Forecast.Horizon, log),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}

func (a *app) notifier() *notify.Manager {
	var notifiers []notify.Notifier

	if n := a.cfg.Notify.Slack; n.Enabled && n.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(n.WebhookURL))
	}
	if n := a.cfg.Notify.Webhook; n.Enabled && n.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(n.URL, n.Secret))
	}

	return notify.NewManager(notifiers, a.log)
}

func (a *app) runner() *pipeline.Runner {
	return pipeline.New(a.db, a.builder, a.trainer, a.generator, a.notifier(), a.log)
}

func runInit() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(a.cfg.Paths.ModelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	fmt.Fprintf(os.Stderr, "database ready at %s, models in %s\n", a.cfg.Database.Path, a.cfg.Paths.ModelDir)
	return nil
}

func runIngest(path, date string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if date == "" {
		date = calendar.Today(time.Now())
	}

	rep, err := ingest.NewImporter(a.db, a.log).ImportFile(context.Background(), path, date)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "%s: %d rows, %d skipped, %d new items, %d sales records\n",
		rep.Date, rep.Rows, rep.Skipped, rep.ItemsCreated, rep.Records)
	return nil
}

func runSample(items, days int, seed int64) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	n, err := ingest.Sample(context.Background(), a.db, ingest.SampleOptions{Items: items, Days: days, Seed: seed}, a.log)
	if err != nil {
		return fmt.Errorf("create sample data: %w", err)
	}
	fmt.Fprintf(os.Stderr, "created %d sample sales records\n", n)
	return nil
}

func runFeatures(out string, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sales, err := a.db.ListSales(context.Background(), store.SalesListOpts{})
	if err != nil {
		return fmt.Errorf("load sales: %w", err)
	}
	table, err := a.builder.Build(sales)
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}

	if out != "" {
		if err := writeFeaturesCSV(out, table); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d feature rows to %s\n", table.Len(), out)
		return nil
	}

	rows := table.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tITEM\tLAG_1\tLAG_7\tROLL_7\tROLL_28\tDOW\tMONTH\tPROMO\tHOLIDAY\tQTY")
	for _, r := range rows {
		qty := ""
		if r.Quantity != nil {
			qty = strconv.FormatFloat(*r.Quantity, 'f', -1, 64)
		}
		fmt.Fprintf(w, "%s\t%d\t%.0f\t%.0f\t%.2f\t%.2f\t%d\t%d\t%.1f\t%t\t%s\n",
			r.Date, r.ItemID, r.Lag1, r.Lag7, r.Rolling7, r.Rolling28,
			r.DayOfWeek, r.Month, r.PromotionDiscount, r.IsHoliday, qty)
	}
	return w.Flush()
}

func writeFeaturesCSV(path string, table *features.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(table.Columns); err != nil {
		return err
	}
	record := make([]string, len(table.Columns))
	for _, r := range table.Rows {
		for i, col := range table.Columns {
			if col == features.ColDate {
				record[i] = r.Date
				continue
			}
			v, ok := r.Value(col)
			if !ok {
				record[i] = ""
				continue
			}
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func runTrain() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sales, err := a.db.ListSales(ctx, store.SalesListOpts{})
	if err != nil {
		a.log.Warn("error loading sales data, training on empty history", zap.Error(err))
	}
	table, err := a.builder.Build(sales)
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}

	res, err := a.trainer.Train(ctx, table)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Fprintf(os.Stderr, "trained %s on %d rows (run %s), saved to %s\n",
		res.Metrics.ModelType, res.Samples, res.RunID, a.slot.Path())
	return nil
}

func runForecast(jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.generator.Generate(context.Background())
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	return printForecasts(res.RunID, res.Forecasts, jsonOutput)
}

func runPipeline(modeName string) error {
	mode, err := pipeline.ParseMode(modeName)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.runner().Run(context.Background(), mode)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	fmt.Fprintf(os.Stderr, "generated %d forecasts (run %s)\n", rep.Forecasts, rep.RunID)
	return nil
}

func runServe(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.New(a.db, a.runner(), port, a.log).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	mode, err := pipeline.ParseMode(a.cfg.Schedule.Mode)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := a.runner()
	sched := scheduler.New(runner, mode, a.cfg.Schedule.ParseInterval(), a.log)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("scheduler error", zap.Error(err))
		}
	}()

	return server.New(a.db, runner, port, a.log).ListenAndServe(ctx)
}

type viewOpts struct {
	json   bool
	limit  int
	itemID int64
	runID  string
}

func runView(what string, opts viewOpts) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	switch what {
	case "items":
		items, err := a.db.ListItems(ctx)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(items)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, it := range items {
			fmt.Fprintf(w, "%d\t%s\t%s\n", it.ID, it.Name, it.CreatedAt)
		}
		return w.Flush()

	case "sales":
		sales, err := a.db.ListSales(ctx, store.SalesListOpts{ItemID: opts.itemID, Limit: opts.limit, Desc: true})
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(sales)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tITEM\tQUANTITY\tPROMO\tHOLIDAY")
		for _, s := range sales {
			fmt.Fprintf(w, "%s\t%d\t%g\t%.1f\t%t\n", s.Date, s.ItemID, s.Quantity, s.Promotion(), s.Holiday())
		}
		return w.Flush()

	case "forecasts":
		runID := opts.runID
		if runID == "" {
			if runID, err = a.db.LatestForecastRunID(ctx); err != nil {
				return err
			}
		}
		if runID == "" {
			fmt.Println("no forecasts found (try: demandcast run --mode retrain)")
			return nil
		}
		forecasts, err := a.db.ListForecasts(ctx, store.ForecastListOpts{RunID: runID})
		if err != nil {
			return err
		}
		return printForecasts(runID, forecasts, opts.json)

	case "runs":
		runs, err := a.db.ListModelRuns(ctx, opts.limit)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(runs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tTIMESTAMP\tMODEL\tMETRICS")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.Timestamp, r.ModelType, r.Metrics)
		}
		return w.Flush()

	case "summary":
		sum, err := a.db.Summarize(ctx)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(sum)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "items\t%d\n", sum.Items)
		fmt.Fprintf(w, "sales rows\t%d\n", sum.SalesRows)
		fmt.Fprintf(w, "sales range\t%s .. %s\n", sum.FirstSale, sum.LastSale)
		fmt.Fprintf(w, "forecasts\t%d (%d runs)\n", sum.Forecasts, sum.ForecastRuns)
		fmt.Fprintf(w, "model runs\t%d\n", sum.ModelRuns)
		return w.Flush()
	}
	return fmt.Errorf("unknown view %q (want items, sales, forecasts, runs or summary)", what)
}

func printForecasts(runID string, forecasts []store.Forecast, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(map[string]any{"run_id": runID, "forecasts": forecasts})
	}
	if len(forecasts) == 0 {
		fmt.Println("no forecasts generated (train a model first: demandcast train)")
		return nil
	}

	fmt.Printf("run %s\n", runID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tITEM\tPREDICTED")
	for _, f := range forecasts {
		fmt.Fprintf(w, "%s\t%d\t%.2f\n", f.Date, f.ItemID, f.PredictedQuantity)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

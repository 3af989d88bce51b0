package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/elyos/internal/api"
	"github.com/lox/elyos/internal/config"
	"github.com/lox/elyos/internal/httputil"
	"github.com/lox/elyos/internal/pipeline"
	"github.com/lox/elyos/internal/predict"
	"github.com/lox/elyos/internal/simulate"
	"github.com/lox/elyos/internal/store"
)

type Globals struct {
	DataDir string `help:"Directory for raw files and the default database." default:"data" env:"ELYOS_DATA_DIR"`
	DB      string `help:"Path to the SQLite database (default <data-dir>/viti_quality.db)." env:"ELYOS_DB"`
	Model   string `help:"Path of the trained model file." default:"models/best_model.gob.gz" env:"ELYOS_MODEL"`
	Sources string `help:"YAML file overriding the source URLs." env:"ELYOS_SOURCES"`
	Seed    uint64 `help:"Seed for year assignment, the split and the forest." default:"42" env:"ELYOS_SEED"`
	LogFile string `help:"Also append logs to this file." env:"ELYOS_LOG_FILE"`
}

func (g *Globals) paths() config.Paths {
	return config.NewPaths(g.DataDir, g.DB, g.Model)
}

// runner opens the store and builds the pipeline. close releases the database.
func (g *Globals) runner() (r *pipeline.Runner, st *store.Store, closeFn func(), err error) {
	src, err := config.LoadSources(g.Sources)
	if err != nil {
		return nil, nil, nil, err
	}
	paths := g.paths()

	db, err := store.Open(paths.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	st = store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	version, err := st.MigrationVersion()
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migration version: %w", err)
	}
	log.Printf("database %s at schema version %d", paths.DB, version)

	jobs := pipeline.Jobs(src, paths, httputil.NewClient(), httputil.NewClientWithUserAgent(httputil.BrowserUserAgent))
	return pipeline.NewRunner(st, paths, jobs, g.Seed), st, func() { db.Close() }, nil
}

type FetchCmd struct{}

func (c *FetchCmd) Run(g *Globals, ctx context.Context) error {
	r, _, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()
	return r.Fetch(ctx)
}

type ProcessCmd struct{}

func (c *ProcessCmd) Run(g *Globals, ctx context.Context) error {
	r, _, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()
	return r.Process(ctx)
}

type TrainCmd struct {
	Trees int `help:"Number of trees in the random forest." default:"100"`
}

func (c *TrainCmd) Run(g *Globals, ctx context.Context) error {
	r, _, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()
	r.Trainer.Forest.Trees = c.Trees
	return r.Train(ctx)
}

type PipelineCmd struct{}

func (c *PipelineCmd) Run(g *Globals, ctx context.Context) error {
	r, _, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()
	return r.RunAll(ctx)
}

type ScheduleCmd struct {
	Every time.Duration `help:"Interval between pipeline runs." default:"24h" env:"ELYOS_SCHEDULE_EVERY"`
}

func (c *ScheduleCmd) Run(g *Globals, ctx context.Context) error {
	r, _, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()
	return r.Schedule(ctx, c.Every)
}

type ServeCmd struct {
	Port     string        `help:"HTTP server port." default:"8080" env:"ELYOS_PORT"`
	Schedule time.Duration `help:"Also rerun the pipeline at this interval and serve each new model (0 disables)." default:"0" env:"ELYOS_SCHEDULE_EVERY"`
}

func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	r, st, closeFn, err := g.runner()
	if err != nil {
		return err
	}
	defer closeFn()

	predictor := predict.NewService()
	if err := predictor.Load(g.paths().Model); err != nil {
		return err
	}

	if c.Schedule > 0 {
		r.Predictor = predictor
		go func() {
			if err := r.Schedule(ctx, c.Schedule); err != nil {
				log.Printf("scheduler: %v", err)
			}
		}()
	} else {
		log.Println("pipeline schedule disabled")
	}

	log.Printf("starting server on :%s", c.Port)
	return api.NewServer(predictor, st, c.Port).Run(ctx)
}

type SimulateCmd struct {
	URL          string        `help:"Prediction endpoint." default:"http://localhost:8080/predict" env:"ELYOS_PREDICT_URL"`
	Requests     int           `help:"Number of requests to send." default:"50"`
	Delay        time.Duration `help:"Delay between requests." default:"500ms"`
	Workers      int           `help:"Concurrent senders." default:"1"`
	IncidentRate float64       `help:"Probability of sending alcohol=150." default:"0.05"`
}

func (c *SimulateCmd) Run(g *Globals, ctx context.Context) error {
	cfg := simulate.DefaultConfig()
	cfg.URL = c.URL
	cfg.Requests = c.Requests
	cfg.Delay = c.Delay
	cfg.Workers = c.Workers
	cfg.IncidentRate = c.IncidentRate
	cfg.Seed = g.Seed

	report, err := simulate.New(httputil.NewClient(), cfg).Run(ctx)
	fmt.Printf("sent=%d ok=%d rejected=%d failed=%d unavailable=%d other=%d transport=%d skipped=%d incidents=%d\n",
		report.Total(), report.OK, report.Rejected, report.Failed, report.Unavailable, report.Other,
		report.TransportErrors, report.Skipped, report.Incidents)
	return err
}

type CLI struct {
	Globals

	Fetch    FetchCmd    `cmd:"" help:"Download the weather, wine and country sources."`
	Process  ProcessCmd  `cmd:"" help:"Clean, merge and load the raw files into SQLite."`
	Train    TrainCmd    `cmd:"" help:"Train both models and save the better one."`
	Pipeline PipelineCmd `cmd:"" help:"Run fetch, process and train."`
	Schedule ScheduleCmd `cmd:"" help:"Run the pipeline periodically."`
	Serve    ServeCmd    `cmd:"" help:"Serve the prediction API."`
	Simulate SimulateCmd `cmd:"" help:"Send random wines to a running API."`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("elyos"),
		kong.Description("Wine quality ETL, training and prediction service."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	closeLog, err := setupLogging(cli.LogFile, os.Stderr)
	kctx.FatalIfErrorf(err)
	err = kctx.Run(&cli.Globals)
	closeLog()
	kctx.FatalIfErrorf(err)
}

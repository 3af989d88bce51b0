package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/elyos/internal/config"
	"github.com/lox/elyos/internal/etl"
	"github.com/lox/elyos/internal/ingest"
	"github.com/lox/elyos/internal/metrics"
	"github.com/lox/elyos/internal/model"
	"github.com/lox/elyos/internal/models"
	"github.com/lox/elyos/internal/predict"
	"github.com/lox/elyos/internal/store"
)

const (
	StageFetch   = "fetch"
	StageProcess = "process"
	StageTrain   = "train"
)

// Runner drives the fetch, process and train stages against one store.
type Runner struct {
	store *store.Store
	paths config.Paths
	jobs  []ingest.Job
	seed  uint64

	Trainer model.Trainer
	// ArchiveRetentionDays bounds how long fetched files stay archived.
	ArchiveRetentionDays int
	// Predictor, when set, starts serving each newly trained model.
	Predictor *predict.Service
}

func NewRunner(st *store.Store, paths config.Paths, jobs []ingest.Job, seed uint64) *Runner {
	trainer := model.NewTrainer()
	trainer.Seed = seed
	trainer.Forest.Seed = seed
	return &Runner{
		store:   st,
		paths:   paths,
		jobs:    jobs,
		seed:    seed,
		Trainer: trainer,

		ArchiveRetentionDays: 90,
	}
}

// Jobs returns the three source fetchers writing to their raw paths. The
// countries page is fetched with pageClient, which should send a browser
// User-Agent.
func Jobs(src config.Sources, paths config.Paths, client, pageClient *http.Client) []ingest.Job {
	return []ingest.Job{
		{Fetcher: ingest.NewWeatherFetcher(client, src.Weather), Dest: paths.WeatherCSV},
		{Fetcher: ingest.NewWineFetcher(client, src.WineURL), Dest: paths.WineCSV},
		{Fetcher: ingest.NewCountryFetcher(pageClient, src.Countries), Dest: paths.CountryCSV},
	}
}

// stage records one execution of fn in pipeline_runs and the stage metrics.
func (r *Runner) stage(ctx context.Context, name string, fn func(ctx context.Context, run *models.PipelineRun) (int, error)) error {
	start := time.Now()
	run, err := r.store.StartRun(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	rows, err := fn(ctx, run)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	run.Success = err == nil
	run.Rows = sql.NullInt64{Int64: int64(rows), Valid: true}
	if err != nil {
		metrics.StageFailures.WithLabelValues(name).Inc()
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		log.Printf("pipeline: %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
	} else {
		log.Printf("pipeline: %s done in %s (%d rows)", name, time.Since(start).Round(time.Millisecond), rows)
	}

	if cerr := r.store.CompleteRun(context.WithoutCancel(ctx), run); cerr != nil {
		log.Printf("pipeline: complete %s run %s: %v", name, run.ID, cerr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Fetch downloads every source and archives the files it wrote. A failing
// source does not stop the others; the joined failures are returned. A source
// whose fetch failed and whose raw file is missing is restored from its
// latest archived copy.
func (r *Runner) Fetch(ctx context.Context) error {
	return r.stage(ctx, StageFetch, func(ctx context.Context, run *models.PipelineRun) (int, error) {
		start := time.Now()
		fetchErr := ingest.FetchAll(ctx, r.jobs)

		archived := 0
		for _, job := range r.jobs {
			info, err := os.Stat(job.Dest)
			if err != nil || info.ModTime().Before(start) {
				continue
			}
			b, err := os.ReadFile(job.Dest)
			if err != nil {
				log.Printf("pipeline: read %s for archive: %v", job.Dest, err)
				continue
			}
			id, err := r.store.StoreRawArtifact(ctx, run.ID, job.Fetcher.Name(), b)
			if err != nil {
				log.Printf("pipeline: archive %s: %v", job.Fetcher.Name(), err)
				continue
			}
			if id == 0 {
				log.Printf("pipeline: %s unchanged since last fetch", job.Fetcher.Name())
			}
			archived++
		}

		for _, job := range r.jobs {
			if _, err := os.Stat(job.Dest); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
			restored, err := r.restore(ctx, job)
			if err != nil {
				log.Printf("pipeline: restore %s: %v", job.Fetcher.Name(), err)
			} else if restored {
				log.Printf("pipeline: %s restored from archive to %s", job.Fetcher.Name(), job.Dest)
			}
		}

		if r.ArchiveRetentionDays > 0 {
			n, err := r.store.CleanupOldRawArtifacts(ctx, r.ArchiveRetentionDays)
			if err != nil {
				log.Printf("pipeline: archive cleanup: %v", err)
			} else if n > 0 {
				log.Printf("pipeline: removed %d archived files older than %d days", n, r.ArchiveRetentionDays)
			}
		}
		return archived, fetchErr
	})
}

// restore writes the latest archived copy of job's source to its raw path.
// It reports false when nothing was ever archived for the source.
func (r *Runner) restore(ctx context.Context, job ingest.Job) (bool, error) {
	a, err := r.store.LatestRawArtifact(ctx, job.Fetcher.Name())
	if err != nil || a == nil {
		return false, err
	}
	payload, err := r.store.GetRawArtifact(ctx, a.ID)
	if err != nil {
		return false, err
	}

	dir := filepath.Dir(job.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(job.Dest)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	return true, os.Rename(tmp.Name(), job.Dest)
}

// Process rebuilds vins_enrichis and referentiel_pays from the raw files.
// The recorded row count is read back from the store.
func (r *Runner) Process(ctx context.Context) error {
	return r.stage(ctx, StageProcess, func(ctx context.Context, run *models.PipelineRun) (int, error) {
		res, err := etl.Process(ctx, r.paths, r.store, r.seed)
		if err != nil {
			return 0, err
		}
		n, err := r.store.CountRows(ctx, store.WineTable)
		if err != nil {
			return 0, err
		}
		if n != res.Wines {
			return n, fmt.Errorf("%s holds %d rows, expected %d", store.WineTable, n, res.Wines)
		}
		return n, nil
	})
}

// Train fits both candidates on vins_enrichis, saves the better one and
// records the benchmark of each.
func (r *Runner) Train(ctx context.Context) error {
	return r.stage(ctx, StageTrain, func(ctx context.Context, run *models.PipelineRun) (int, error) {
		wines, err := r.store.LoadWines(ctx)
		if err != nil {
			return 0, err
		}
		res, err := r.Trainer.Train(ctx, wines)
		if err != nil {
			return 0, err
		}
		for _, c := range res.Candidates {
			log.Printf("pipeline: %s mse=%.4f r2=%.4f selected=%t", c.Model.Name(), c.MSE, c.R2, c.Selected)
		}

		if err := model.Save(r.paths.Model, res.Best); err != nil {
			return 0, err
		}
		if err := r.store.InsertBenchmarks(ctx, res.Benchmarks(run.ID)); err != nil {
			return 0, err
		}
		if r.Predictor != nil {
			r.Predictor.SetModel(res.Best)
		}
		log.Printf("pipeline: saved %s to %s", res.Best.Name(), r.paths.Model)
		return res.TrainRows + res.TestRows, nil
	})
}

// RunAll runs the three stages in order. Fetch failures are logged and the
// previous raw files are used; a process failure stops the run before train.
func (r *Runner) RunAll(ctx context.Context) error {
	if err := r.Fetch(ctx); err != nil {
		log.Printf("pipeline: continuing with existing raw files: %v", err)
	}
	if err := r.Process(ctx); err != nil {
		return err
	}
	return r.Train(ctx)
}

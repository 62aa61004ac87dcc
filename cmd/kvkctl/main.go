package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"kvkstats/internal/admin"
	"kvkstats/internal/cache"
	"kvkstats/internal/camps"
	"kvkstats/internal/config"
	"kvkstats/internal/db"
	"kvkstats/internal/logging"
	"kvkstats/internal/parser"
	"kvkstats/internal/processor"
	"kvkstats/internal/queue"
	"kvkstats/internal/retriever"
)

func main() {
	cliApp := &cli.App{
		Name:  "kvkctl",
		Usage: "manage kvkstats data",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: func(c *cli.Context) error {
					return withDeps(c, func(ctx context.Context, d *deps) error {
						fmt.Println("migrations applied")
						return nil
					})
				},
			},
			{
				Name:      "upload",
				Usage:     "process a kingdom spreadsheet synchronously",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "kd", Usage: "kingdom number", Required: true},
					&cli.StringFlag{Name: "event", Usage: "event name", Required: true},
				},
				Action: uploadAction,
			},
			{
				Name:   "status",
				Usage:  "print per-kingdom upload status and queue depth",
				Action: statusAction,
			},
			{
				Name:  "clear-cache",
				Usage: "drop cached read projections",
				Action: func(c *cli.Context) error {
					return withDeps(c, func(ctx context.Context, d *deps) error {
						return d.reader.ClearCache(ctx)
					})
				},
			},
			{
				Name:   "clear-events",
				Usage:  "delete all event data and zero cumulative kingdoms",
				Flags:  []cli.Flag{confirmFlag},
				Action: maintenanceAction((*admin.Service).ClearEventData),
			},
			{
				Name:   "reset",
				Usage:  "delete every player record and aggregate",
				Flags:  []cli.Flag{confirmFlag},
				Action: maintenanceAction((*admin.Service).ResetDatabase),
			},
			{
				Name:   "rebuild",
				Usage:  "recompute camp and cumulative tiers from kingdom-event aggregates",
				Action: maintenanceAction((*admin.Service).Rebuild),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var confirmFlag = &cli.BoolFlag{Name: "yes", Usage: "confirm the destructive operation"}

type deps struct {
	cfg    *config.Config
	table  *camps.Table
	redis  *redis.Client
	reader *retriever.Retriever
	pool   *pgxpool.Pool
}

// withDeps connects to Postgres (and Redis when configured), runs
// migrations and hands the wired components to fn.
func withDeps(c *cli.Context, fn func(ctx context.Context, d *deps) error) error {
	ctx := c.Context

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.LogLevel)

	table, err := camps.Load(cfg.CampsFile)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	d := &deps{cfg: cfg, table: table, pool: pool}

	var readCache cache.Cache = cache.NewMemory(cfg.CacheTTL)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		d.redis = redis.NewClient(opts)
		defer d.redis.Close()
		readCache = cache.NewRedis(d.redis, cfg.CacheTTL)
	}

	d.reader = retriever.New(db.NewDocumentStore(pool), table, readCache)
	return fn(ctx, d)
}

func uploadAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("missing spreadsheet path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	upload, err := parser.NewFactory().Parse(path, data)
	if err != nil {
		return err
	}

	return withDeps(c, func(ctx context.Context, d *deps) error {
		uploads := processor.NewUploadProcessor(db.NewDocumentStore(d.pool), d.table, d.reader)
		result := uploads.ProcessUpload(ctx, c.Int("kd"), c.String("event"), upload)
		if !result.Success {
			return fmt.Errorf("upload failed: %s", result.Message)
		}
		fmt.Printf("kingdom %d (%s) %q: %d players, DKP %d, KP %d, %d rows skipped\n",
			result.Aggregate.KDNumber, result.Aggregate.Camp, result.Aggregate.EventName,
			result.Aggregate.PlayerCount, result.Aggregate.DKP, result.Aggregate.KillPoints, result.SkippedRows)
		return nil
	})
}

func statusAction(c *cli.Context) error {
	return withDeps(c, func(ctx context.Context, d *deps) error {
		status, err := d.reader.UploadStatus(ctx)
		if err != nil {
			return err
		}

		for _, camp := range d.table.Order {
			kingdoms := append([]int(nil), d.table.Kingdoms(camp)...)
			sort.Ints(kingdoms)
			fmt.Printf("%s\n", camp)
			for _, kd := range kingdoms {
				fmt.Printf("  %-6d %s\n", kd, status[kd])
			}
		}

		if d.redis != nil {
			depth, err := queue.NewRedisQueue(d.redis).Depth(ctx, d.cfg.RedisQueue)
			if err != nil {
				return err
			}
			fmt.Printf("queue %s: %d pending, %d retrying, %d dead\n", d.cfg.RedisQueue, depth.Pending, depth.Retry, depth.Dead)
		}
		return nil
	})
}

func maintenanceAction(op func(*admin.Service, context.Context) (*admin.Report, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Command.HasName("clear-events") || c.Command.HasName("reset") {
			if !c.Bool("yes") {
				return fmt.Errorf("%s is destructive, pass --yes to confirm", c.Command.Name)
			}
		}
		return withDeps(c, func(ctx context.Context, d *deps) error {
			svc := admin.NewService(db.NewDocumentStore(d.pool), d.table, d.reader)
			report, err := op(svc, ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d players deleted, %d aggregates deleted, %d kingdoms reset, %d replayed, %d skipped\n",
				c.Command.Name, report.PlayersDeleted, report.AggregatesDeleted, report.KingdomsReset, report.Replayed, report.Skipped)
			return nil
		})
	}
}

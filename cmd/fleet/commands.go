package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sorrel-systems/fleet/internal/dispatch"
	"github.com/sorrel-systems/fleet/internal/sweep"
	"github.com/urfave/cli/v3"
)

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Registered task bodies",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List registered tasks",
				Action: func(ctx context.Context, c *cli.Command) error {
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					for _, name := range e.registry.Names() {
						fmt.Println(name)
					}
					return nil
				},
			},
		},
	}
}

func workersCommand() *cli.Command {
	return &cli.Command{
		Name:  "workers",
		Usage: "Worker identities",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List known workers",
				Action: func(ctx context.Context, c *cli.Command) error {
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					workers, err := e.db.ListWorkers()
					if err != nil {
						return err
					}
					for _, w := range workers {
						fmt.Printf("%s\tstatus=%s\ttasks=%d\tlikes=%d\tcomments=%d\tcreated=%s\n",
							w.ID, w.Status, w.TotalTasks, w.TotalLikes, w.TotalComments,
							time.Unix(w.CreatedAt, 0).UTC().Format(time.RFC3339))
					}
					return nil
				},
			},
			{
				Name:      "register",
				Usage:     "Register a worker identity explicitly",
				ArgsUsage: "<worker-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("worker id is required")
					}
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					return e.db.EnsureWorker(id, time.Now().Unix())
				},
			},
		},
	}
}

// parseParams turns repeated key=value strings into a map.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid param %q, want key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run one task for one worker",
		ArgsUsage: "<worker-id> <task-name>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "param", Usage: "task parameter as key=value (repeatable)"},
			&cli.BoolFlag{Name: "keep-session", Usage: "leave the browser session open afterwards"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			workerID, taskName := c.Args().Get(0), c.Args().Get(1)
			if workerID == "" || taskName == "" {
				return fmt.Errorf("worker id and task name are required")
			}
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return err
			}
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			r := e.disp.Execute(workerID, taskName, params, true, !c.Bool("keep-session"))
			printResult(workerID, r)
			if !r.Success {
				return fmt.Errorf("task failed: %s", r.Error)
			}
			return nil
		},
	}
}

func runBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "run-batch",
		Usage:     "Run one task across many workers",
		ArgsUsage: "<worker-id,worker-id,...> <task-name>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "param", Usage: "task parameter as key=value (repeatable)"},
			&cli.BoolFlag{Name: "concurrent", Usage: "run workers in parallel instead of in order"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ids := strings.Split(c.Args().Get(0), ",")
			taskName := c.Args().Get(1)
			if len(ids) == 0 || ids[0] == "" || taskName == "" {
				return fmt.Errorf("worker ids and task name are required")
			}
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return err
			}
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			results := e.disp.BatchExecute(ids, taskName, params, !c.Bool("concurrent"))
			failures := 0
			for _, id := range ids {
				r := results[id]
				printResult(id, r)
				if !r.Success {
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d workers failed", failures, len(ids))
			}
			return nil
		},
	}
}

func riskCommand() *cli.Command {
	return &cli.Command{
		Name:  "risk",
		Usage: "Worker risk scores",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a worker's latest risk score",
				ArgsUsage: "<worker-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("worker id is required")
					}
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					rs, ok, err := e.scorer.Latest(id)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no risk score on record for %s", id)
					}
					fmt.Printf("%s\t%s (%d)\tage=%d freq=%d pattern=%d content=%d ip=%d\tat %s\n",
						rs.WorkerID, rs.RiskLevel, rs.TotalScore,
						rs.AgeScore, rs.FrequencyScore, rs.PatternScore, rs.ContentScore, rs.IPScore,
						time.Unix(rs.ScoreDate, 0).UTC().Format(time.RFC3339))
					return nil
				},
			},
			{
				Name:      "compute",
				Usage:     "Recompute a worker's risk score now",
				ArgsUsage: "<worker-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("worker id is required")
					}
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					rs, err := e.scorer.ComputeScore(id)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s (%d)\n", rs.WorkerID, rs.RiskLevel, rs.TotalScore)
					return nil
				},
			},
		},
	}
}

func thresholdsCommand() *cli.Command {
	return &cli.Command{
		Name:  "thresholds",
		Usage: "Adaptive activity thresholds",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show threshold rows",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "action", Usage: "narrow to one action type"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					rows, err := e.db.ListThresholds(c.String("action"))
					if err != nil {
						return err
					}
					for _, r := range rows {
						fmt.Printf("%s/%s\tsafe=%d warning=%d danger=%d ban=%d\tsamples=%d\n",
							r.ActionType, r.TimeWindow, r.SafeThreshold, r.WarningThreshold,
							r.DangerThreshold, r.BanThreshold, r.SampleSize)
					}
					return nil
				},
			},
			{
				Name:  "analyze",
				Usage: "Re-mine thresholds from the ledger and ban history",
				Action: func(ctx context.Context, c *cli.Command) error {
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					n, err := e.analyzer.Analyze()
					if err != nil {
						return err
					}
					fmt.Printf("updated %d threshold rows\n", n)
					return nil
				},
			},
		},
	}
}

func bansCommand() *cli.Command {
	return &cli.Command{
		Name:  "bans",
		Usage: "Ban events and statistics",
		Commands: []*cli.Command{
			{
				Name:      "record",
				Usage:     "Record a ban for a worker",
				ArgsUsage: "<worker-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Value: "temporary", Usage: "ban type"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("worker id is required")
					}
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					b, err := e.bans.RecordBan(id, c.String("type"), nil)
					if err != nil {
						return err
					}
					// Second explicit step: free the worker's targets.
					released, err := e.db.ReleaseAllClaims(id)
					if err != nil {
						return err
					}
					fmt.Printf("recorded %s ban for %s (%d actions on record), released %d claims\n",
						b.BanType, id, b.TotalActions, released)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Aggregate ban statistics",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: 30, Usage: "trailing window in days (0 for all)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					stats, err := e.bans.Stats(int(c.Int("days")))
					if err != nil {
						return err
					}
					fmt.Printf("total=%d avgAccountAgeDays=%.1f avgBanDelayHours=%.1f\n",
						stats.TotalBans, stats.AvgAccountAgeDays, stats.AvgBanDelayHours)
					for banType, n := range stats.ByType {
						fmt.Printf("  %s: %d\n", banType, n)
					}
					return nil
				},
			},
			{
				Name:      "release",
				Usage:     "Release all active claims held by a worker",
				ArgsUsage: "<worker-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("worker id is required")
					}
					e, err := openEnv(c)
					if err != nil {
						return err
					}
					defer e.close()
					n, err := e.db.ReleaseAllClaims(id)
					if err != nil {
						return err
					}
					fmt.Printf("released %d claims\n", n)
					return nil
				},
			},
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run the periodic risk and threshold sweeps until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: 5 * time.Minute, Usage: "sweep interval"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			runner := sweep.New(e.scorer, e.analyzer, c.Duration("interval"))
			runner.Start(runCtx)

			// Graceful shutdown on SIGINT/SIGTERM.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			fmt.Printf("sweeping every %s, ctrl-c to stop\n", c.Duration("interval"))
			<-sigCh
			fmt.Println("shutting down")
			return nil
		},
	}
}

func printResult(workerID string, r dispatch.TaskResult) {
	if r.Success {
		fmt.Printf("%s\tok\t%s\t%s\n", workerID, r.Duration.Round(time.Millisecond), r.Message)
		return
	}
	fmt.Printf("%s\tfailed\t%s\t%s\n", workerID, r.Duration.Round(time.Millisecond), r.Error)
}

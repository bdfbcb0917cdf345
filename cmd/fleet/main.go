package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/sorrel-systems/fleet/internal/bans"
	"github.com/sorrel-systems/fleet/internal/dispatch"
	"github.com/sorrel-systems/fleet/internal/ledger"
	"github.com/sorrel-systems/fleet/internal/ratelimit"
	"github.com/sorrel-systems/fleet/internal/risk"
	"github.com/sorrel-systems/fleet/internal/session"
	"github.com/sorrel-systems/fleet/internal/storage"
	"github.com/sorrel-systems/fleet/internal/threshold"
	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "fleet",
		Usage: "Coordinate browser automation workers over a shared store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: defaultDBPath(), Usage: "SQLite database path"},
			&cli.StringFlag{Name: "session-endpoint", Value: os.Getenv("FLEET_SESSION_ENDPOINT"),
				Usage: "ws:// browser-control endpoint (in-memory sessions when empty)"},
		},
		Commands: []*cli.Command{
			tasksCommand(),
			workersCommand(),
			runCommand(),
			runBatchCommand(),
			riskCommand(),
			thresholdsCommand(),
			bansCommand(),
			sweepCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func defaultDBPath() string {
	if p := os.Getenv("FLEET_DB"); p != "" {
		return p
	}
	return "fleet.db"
}

// env bundles the wired components behind one store handle. The handle is
// created once per invocation and closed when the command finishes; no
// hidden process-wide singletons.
type env struct {
	db       *storage.DB
	ledger   *ledger.Ledger
	registry *dispatch.MemRegistry
	scorer   *risk.Scorer
	analyzer *threshold.Analyzer
	bans     *bans.Tracker
	disp     *dispatch.Dispatcher
}

// openEnv constructs the component graph from the root flags.
func openEnv(c *cli.Command) (*env, error) {
	db, err := storage.NewDB(c.String("db"))
	if err != nil {
		return nil, err
	}

	var provider session.Provider
	if endpoint := c.String("session-endpoint"); endpoint != "" {
		provider = session.NewWSProvider(endpoint)
	} else {
		provider = session.NewMemProvider()
	}

	e := &env{
		db:       db,
		ledger:   ledger.New(db),
		registry: dispatch.NewMemRegistry(),
		scorer:   risk.NewScorer(db),
		analyzer: threshold.NewAnalyzer(db),
		bans:     bans.NewTracker(db),
	}
	e.disp = dispatch.New(db, e.ledger, e.registry, provider,
		e.scorer, e.analyzer, ratelimit.NewPerWorker(120, time.Minute))
	registerBuiltinTasks(e.registry)
	return e, nil
}

func (e *env) close() {
	e.disp.CloseAll()
	if err := e.db.Close(); err != nil {
		log.Printf("close db: %v", err)
	}
}

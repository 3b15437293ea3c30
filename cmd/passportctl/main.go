// Package main provides passportctl, the operator CLI for the battery
// passport graph.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/graph"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/lifecycle"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/query"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/config"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/natsutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout, errOut: os.Stderr, open: openBackend}
	err := c.root().ExecuteContext(ctx)
	c.detach()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// backend is everything a command may need. Fields a backend cannot provide
// stay nil.
type backend struct {
	engine  *lifecycle.Engine
	query   *query.Service
	migrate func(ctx context.Context) error
	nats    *nats.Conn
	close   func()
}

type cli struct {
	configFile string
	out        io.Writer
	errOut     io.Writer

	// open builds the backend from configuration; tests swap it for an
	// in-memory one.
	open func(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error)
	b    *backend
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:   "passportctl",
		Short: "Operate the battery passport graph",
		Long: `passportctl registers batteries and reference data, drives passports
through the end-of-life workflow and inspects their history.

Connection settings come from passport.yaml and PASSPORT_* environment
variables, e.g. PASSPORT_NEO4J_URL and PASSPORT_NATS_URL.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.attach,
		PersistentPostRun: func(*cobra.Command, []string) { c.detach() },
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: ./passport.yaml or /etc/passport/passport.yaml)")

	root.AddCommand(
		c.migrateCmd(),
		c.registerCmd(),
		c.actorCmd(),
		c.locationCmd(),
		c.performanceCmd(),
		c.declareWasteCmd(),
		c.validateWasteCmd(),
		c.receiveCmd(),
		c.showCmd(),
		c.historyCmd(),
		c.integrityCmd(),
		c.watchCmd(),
	)
	return root
}

func (c *cli) attach(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.New(), c.configFile)
	if err != nil {
		return err
	}
	log := cfg.Logger(c.errOut)
	b, err := c.open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	c.b = b
	return nil
}

func (c *cli) detach() {
	if c.b != nil && c.b.close != nil {
		c.b.close()
	}
	c.b = nil
}

// openBackend connects to Neo4j and, when configured, NATS.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect %s: %w", cfg.Neo4jURL, err)
	}
	store := graph.New(driver, cfg.Neo4jDatabase, graph.WithLogger(log))

	b := &backend{
		query:   query.New(store, query.WithLogger(log)),
		migrate: store.Migrate,
		close:   func() { driver.Close(context.Background()) },
	}
	opts := []lifecycle.Option{lifecycle.WithLogger(log)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("passportctl"))
		if err != nil {
			b.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		b.nats = nc
		opts = append(opts, lifecycle.WithNotifier(natsutil.NewEventPublisher(nc)))
		closeDriver := b.close
		b.close = func() {
			nc.Drain()
			closeDriver()
		}
	}
	b.engine = lifecycle.New(store, opts...)
	return b, nil
}

func (c *cli) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

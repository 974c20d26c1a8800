package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/cherry-wb/tablereplica/config"
	"github.com/cherry-wb/tablereplica/dbpool"
	"github.com/cherry-wb/tablereplica/logging"
	"github.com/cherry-wb/tablereplica/statusstore"
)

var version string

// opts mirrors the teacher's cmd/mysqldef flag struct shape: a single
// flat options struct parsed by jessevdk/go-flags, not a cobra command
// tree (grounded on cmd/mysqldef/mysqldef.go, cmd/sqlite3def/sqlite3def.go).
type opts struct {
	Config  string `long:"config" description:"Path to the sync config file ([sync_db]/[sync_tables]/[auto_sync])" value-name:"config_file" default:"tablenode.conf"`
	Help    bool   `long:"help" description:"Show this help"`
	Version bool   `long:"version" description:"Show this version"`
}

// parseOptions parses args and returns the requested verb ("start" or
// "status") plus the loaded config.
func parseOptions(args []string) (string, config.Config) {
	var o opts
	parser := flags.NewParser(&o, flags.None)
	parser.Usage = "[options] start|status"
	rest, err := parser.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if o.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if o.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	if len(rest) != 1 || (rest[0] != "start" && rest[0] != "status") {
		fmt.Print("Expected exactly one verb, \"start\" or \"status\"\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	f, err := os.Open(o.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tablenode: open %s: %v\n", o.Config, err)
		os.Exit(1)
	}
	defer f.Close()

	cfg, err := config.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tablenode: %v\n", err)
		os.Exit(1)
	}
	return rest[0], cfg
}

func main() {
	verb, cfg := parseOptions(os.Args[1:])
	ctx := context.Background()
	log := logging.New("tablenode")

	pool := dbpool.New()
	defer pool.Close()

	switch verb {
	case "status":
		if err := runStatus(ctx, cfg, pool); err != nil {
			fmt.Fprintf(os.Stderr, "tablenode: %v\n", err)
			os.Exit(1)
		}
	case "start":
		if err := runStart(ctx, cfg, pool, log); err != nil {
			fmt.Fprintf(os.Stderr, "tablenode: %v\n", err)
			os.Exit(1)
		}
	}
}

// runStatus opens the configured status store and prints every tracked
// table's name, owner and AutoSync flag — the one verb this binary can serve entirely on
// its own, with no ledger core attached.
func runStatus(ctx context.Context, cfg config.Config, pool *dbpool.Pool) error {
	dialect, err := poolDialect(cfg.SyncDB.Type)
	if err != nil {
		return err
	}
	handle, err := pool.Checkout(dialect, cfg.SyncDB.DB)
	if err != nil {
		return fmt.Errorf("open [sync_db]: %w", err)
	}
	store := statusstore.New(handle.DB())
	if err := store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap status store: %w", err)
	}

	manual, err := store.GetAutoListFromDB(ctx, false)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	auto, err := store.GetAutoListFromDB(ctx, true)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	entries := append(manual, auto...)
	if len(entries) == 0 {
		fmt.Println("no tables tracked")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-20s owner=%s autoSync=%v\n", e.TableName, e.Owner.Base58(), e.AutoSync)
	}
	return nil
}

func poolDialect(cfgType string) (dbpool.DialectName, error) {
	switch cfgType {
	case "mysql":
		return dbpool.MySQL, nil
	case "sqlite":
		return dbpool.SQLite, nil
	default:
		return 0, fmt.Errorf("unknown [sync_db] type %q", cfgType)
	}
}

// runStart returns an error without starting anything. The
// ledger/consensus core, the peer overlay, and the job queue that drive
// TryTableSync/Tick ticks are out of this module's scope (spec §1); a
// host process wires the node by calling node.Start with its own
// Bridge. Standalone, there is no
// consensus core to attach, so start refuses to run rather than
// fabricate one.
//
// TODO: once this module is vendored into the node daemon that owns
// ledger.Source/TxMaster/the peer overlay, replace this refusal with a
// call to node.Start(ctx, cfg, pool, <the daemon's node.Bridge>, log)
// followed by the daemon's own event loop driving Tick/TryTableSync.
func runStart(ctx context.Context, cfg config.Config, pool *dbpool.Pool, log logging.Logger) error {
	return fmt.Errorf("start: no ledger core attached; this binary must be embedded in the node daemon that supplies node.Bridge (see package node)")
}

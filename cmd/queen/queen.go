package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/honeynil/queen"
)

// buildQueen assembles a *queen.Queen from the merged viper configuration:
// it opens the configured driver, loads migrations from every --source
// directory, and wires an interactive confirmation prompt unless
// --batch/QUEEN_BATCH_MODE is set.
func buildQueen(ctx context.Context) (*queen.Queen, error) {
	uri := viper.GetString("database")
	if uri == "" {
		return nil, fmt.Errorf("no database configured (use --database, QUEEN_DATABASE, or a config file)")
	}
	sources := viper.GetStringSlice("sources")
	if len(sources) == 0 {
		return nil, fmt.Errorf("no migration source directories configured (use --source, QUEEN_SOURCES, or a config file)")
	}

	driver, err := queen.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	config := &queen.Config{
		MigrationTable: viper.GetString("migration_table"),
		LockTimeout:    viper.GetDuration("lock_timeout"),
		SkipLock:       viper.GetBool("skip_lock"),
		BatchMode:      viper.GetBool("batch_mode"),
		Verbosity:      viper.GetInt("verbosity"),
	}
	if !config.BatchMode {
		config.ConfirmCallback = promptConfirm
	}
	if config.MigrationTable == "" {
		config.MigrationTable = "_yoyo_migration"
	}

	q := queen.NewWithConfig(driver, config)

	migrations, err := queen.ReadMigrations(sources...)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	for _, m := range migrations {
		if err := q.Add(*m); err != nil {
			driver.Close()
			return nil, fmt.Errorf("register %s: %w", m.Identity, err)
		}
	}

	return q, nil
}

// promptConfirm asks on stdin/stderr before running one migration. It
// implements queen.ConfirmFunc.
func promptConfirm(identity string, dir queen.Direction) queen.Decision {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s %s? [y]es/[n]o/[a]ll/[q]uit: ", dir, identity)
		line, err := reader.ReadString('\n')
		if err != nil {
			return queen.DecisionQuit
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes", "":
			return queen.DecisionYes
		case "n", "no":
			return queen.DecisionNo
		case "a", "all":
			return queen.DecisionAll
		case "q", "quit":
			return queen.DecisionQuit
		}
	}
}

func runOptionsFor(target string, force bool) queen.RunOptions {
	return queen.RunOptions{Target: target, Force: force}
}

func reportResult(res *queen.ExecResult) {
	for _, id := range res.Applied {
		log.WithField("migration", id).Info("applied")
	}
	for _, id := range res.RolledBack {
		log.WithField("migration", id).Info("rolled back")
	}
	for _, w := range res.Warnings {
		log.Warn(w)
	}
}

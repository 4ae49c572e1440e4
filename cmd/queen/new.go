package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/honeynil/queen/internal/iniconfig"
)

var newTemplate = `-- up


-- down

`

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Scaffold a new migration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := viper.GetStringSlice("sources")
		if len(sources) == 0 {
			return fmt.Errorf("no migration source directory configured (use --source, QUEEN_SOURCES, or a config file)")
		}
		dir := sources[0]

		stamp := timestamp()
		name := sanitize(args[0])
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", stamp, name))

		if err := os.WriteFile(path, []byte(newTemplate), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintln(os.Stdout, path)

		if cfgFile != "" {
			runPostCreateHook(path)
		}
		return nil
	},
}

// timestamp is overridden in tests so scaffolded filenames stay
// deterministic.
var timestamp = func() string {
	return time.Now().UTC().Format("20060102150405")
}

func sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return name
}

// runPostCreateHook runs the config file's post_create_command, if any,
// against the new migration's path. Failures are logged, not fatal: the
// file has already been written and is usable without an editor opened
// on it.
func runPostCreateHook(migrationPath string) {
	cfg, err := iniconfig.Load(cfgFile)
	if err != nil {
		return
	}

	command := cfg.PostCreateCommand
	if command == "" {
		command = cfg.Editor
	}
	if command == "" {
		return
	}

	cmd := exec.Command("sh", "-c", command+` "$1"`, "sh", migrationPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.WithError(err).Warn("post_create_command failed")
	}
}

func init() {
	rootCmd.AddCommand(newCmd)
}

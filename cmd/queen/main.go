// Command queen is the CLI front-end for the migration engine: it wraps
// package queen with configuration loading (flags, environment, and
// internal/iniconfig files, merged through viper), interactive
// confirmation on a terminal, and tabular status output.
package main

import (
	"errors"
	"os"

	"github.com/honeynil/queen"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var migErr *queen.MigrationError
		if errors.As(err, &migErr) {
			log.WithFields(map[string]interface{}{
				"migration": migErr.Identity,
				"direction": migErr.Direction.String(),
			}).Error(migErr.Err)
		} else {
			log.Error(err)
		}
		os.Exit(1)
	}
}

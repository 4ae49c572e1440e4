package main

import (
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("revision")
		force, _ := cmd.Flags().GetBool("force")

		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		res, err := q.Rollback(cmd.Context(), runOptionsFor(target, force))
		if err != nil {
			return err
		}
		reportResult(res)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().String("revision", "", "restrict the run to one migration and its dependents")
	rollbackCmd.Flags().Bool("force", false, "allow targeting an identity no longer registered")
	rootCmd.AddCommand(rollbackCmd)
}

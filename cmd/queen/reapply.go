package main

import (
	"github.com/spf13/cobra"
)

var reapplyCmd = &cobra.Command{
	Use:   "reapply",
	Short: "Roll back and re-apply a restricted set of applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("revision")

		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		res, err := q.Reapply(cmd.Context(), runOptionsFor(target, false))
		if err != nil {
			return err
		}
		reportResult(res)
		return nil
	},
}

func init() {
	reapplyCmd.Flags().String("revision", "", "restrict the run to one migration and its dependency closure")
	rootCmd.AddCommand(reapplyCmd)
}

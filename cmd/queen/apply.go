package main

import (
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("revision")

		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		res, err := q.Apply(cmd.Context(), runOptionsFor(target, false))
		if err != nil {
			return err
		}
		reportResult(res)
		return nil
	},
}

func init() {
	applyCmd.Flags().String("revision", "", "restrict the run to one migration and its dependency closure")
	rootCmd.AddCommand(applyCmd)
}

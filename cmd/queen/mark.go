package main

import (
	"github.com/spf13/cobra"
)

var markCmd = &cobra.Command{
	Use:   "mark",
	Short: "Record migrations as applied without running their steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("revision")

		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		res, err := q.Mark(cmd.Context(), runOptionsFor(target, false))
		if err != nil {
			return err
		}
		reportResult(res)
		return nil
	},
}

var unmarkCmd = &cobra.Command{
	Use:   "unmark",
	Short: "Remove migrations from the applied-set without running rollback steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("revision")
		force, _ := cmd.Flags().GetBool("force")

		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		res, err := q.Unmark(cmd.Context(), runOptionsFor(target, force))
		if err != nil {
			return err
		}
		reportResult(res)
		return nil
	},
}

func init() {
	markCmd.Flags().String("revision", "", "restrict the run to one migration and its dependency closure")
	rootCmd.AddCommand(markCmd)

	unmarkCmd.Flags().String("revision", "", "restrict the run to one migration and its dependents")
	unmarkCmd.Flags().Bool("force", false, "allow targeting an identity no longer registered")
	rootCmd.AddCommand(unmarkCmd)
}

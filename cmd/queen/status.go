package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every registered migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := buildQueen(cmd.Context())
		if err != nil {
			return err
		}
		defer q.Close()

		statuses, err := q.Status(cmd.Context())
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Identity", "Status", "Applied At", "Rollback", "Destructive"})
		table.SetAutoWrapText(false)

		for _, s := range statuses {
			appliedAt := "-"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			table.Append([]string{
				s.Identity,
				s.Status.String(),
				appliedAt,
				yesNo(s.HasRollback),
				yesNo(s.Destructive),
			})
		}
		table.Render()
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

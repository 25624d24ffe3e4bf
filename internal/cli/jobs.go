package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the task execution ledger",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ledger executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		executions, err := dbClient.ListTaskExecutions(cmd.Context(), jobsLimit)
		if err != nil {
			return err
		}
		if len(executions) == 0 {
			fmt.Println("No executions.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATUS\tSTARTED\tCOMPLETED\tHASH")
		for _, exec := range executions {
			completed := "-"
			if exec.CompletedAt != nil {
				completed = exec.CompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.12s\n",
				exec.TaskName, exec.Status,
				exec.StartedAt.Format("2006-01-02 15:04:05"),
				completed, exec.ArgsHash)
		}
		return w.Flush()
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Submit a retention sweep over terminal ledger records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workflow := getWorkflow()

		taskID, err := workflow.SubmitCleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Submitted cleanup (task %s)\n", taskID)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of executions to show")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

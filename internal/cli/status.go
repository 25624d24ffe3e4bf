package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of a submitted task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workflow := getWorkflow()

		status, err := workflow.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Task:     %s\n", status.TaskID)
		if status.TaskName != "" {
			fmt.Printf("Name:     %s\n", status.TaskName)
		}
		fmt.Printf("State:    %s\n", status.State)
		if status.Attempts > 0 {
			fmt.Printf("Attempts: %d\n", status.Attempts)
		}
		if status.Error != nil {
			fmt.Printf("Error:    %s\n", *status.Error)
		}
		if len(status.Result) > 0 {
			pretty, err := json.MarshalIndent(status.Result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("Result:\n%s\n", pretty)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

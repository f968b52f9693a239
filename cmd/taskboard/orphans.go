package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/internal/cleanup"
	"taskboard/internal/models"
)

var deleteOrphans bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List tasks whose project no longer exists",
	Long: `Deleting a project leaves its tasks in place. Orphans lists those tasks and,
with --delete, removes them.`,
	RunE: runOrphans,
}

func init() {
	orphansCmd.Flags().BoolVar(&deleteOrphans, "delete", false, "Delete the orphaned tasks")
}

func runOrphans(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var tasks []models.Task
	if deleteOrphans {
		tasks, err = cleanup.DeleteOrphans(cmd.Context(), store, logger)
	} else {
		tasks, err = cleanup.Orphans(cmd.Context(), store)
	}

	out := cmd.OutOrStdout()
	for _, t := range tasks {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", t.ID, t.ProjectID, t.Status, t.Title)
	}
	verb := "found"
	if deleteOrphans {
		verb = "deleted"
	}
	fmt.Fprintf(out, "%s %d orphaned tasks\n", verb, len(tasks))
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load projects and tasks from a YAML file",
	Long: `Seed creates the projects listed in a YAML file together with their tasks.
The whole file is validated before anything is written.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file with projects and tasks")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, err := seed.LoadFile(seedFile)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := seed.Apply(cmd.Context(), store, file, logger)
	fmt.Fprintf(cmd.OutOrStdout(), "created %d projects and %d tasks\n", res.Projects, res.Tasks)
	return err
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"workyard-sim/internal/scenario"
)

var pipelinesScenarios []string

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Inspect pipeline definitions",
}

var pipelinesCheckCmd = &cobra.Command{
	Use:   "check [file]...",
	Short: "Validate pipeline definition files and list the resulting catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range catalog.Defs() {
			fmt.Fprintf(out, "%-14s %-10s %6dms  %s\n", d.Name, d.QoS, d.DeadlineMs, strings.Join(d.Ops, " > "))
		}
		for _, name := range pipelinesScenarios {
			sc, err := loadScenario(name)
			if err != nil {
				return err
			}
			if _, err := scenario.NewRunner(sc, catalog, 0, 0); err != nil {
				return err
			}
			fmt.Fprintf(out, "scenario %s: ok (%d phases)\n", name, len(sc.Phases))
		}
		return nil
	},
}

func init() {
	pipelinesCheckCmd.Flags().StringSliceVar(&pipelinesScenarios, "scenario", nil, "Scenarios whose pipelines must resolve against the catalog")
	pipelinesCmd.AddCommand(pipelinesCheckCmd)
}

// Command pgcdc tails a PostgreSQL logical replication slot and dispatches
// decoded row-change events to application-defined watchers.
//
// Its cobra root + start-subcommand shape mirrors the teacher's
// cmd/pgo/root.go + cmd/pgo/pipeline.go; the pipeline/REST/RAG subcommands
// it doesn't carry over are out of scope (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pgcdc",
	Short: "pgcdc tails PostgreSQL logical replication and dispatches CDC events",
	Long:  "pgcdc tails a PostgreSQL logical replication slot, decodes pgoutput, and dispatches typed row-change events to application-defined watchers.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgcdc.yaml)")
	rootCmd.AddCommand(startCmd)
}

func main() {
	Execute()
}

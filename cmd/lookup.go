package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmgeodb/internal/osmdata"
	"github.com/wegman-software/osmgeodb/internal/posindex"
)

var lookupKind string

var lookupCmd = &cobra.Command{
	Use:   "lookup <index.parquet> <id>",
	Short: "Find the block holding an entity",
	Long: `Read a position index exported with import --index-output and print the
file offset of the group that would hold the given id.`,
	Args: cobra.ExactArgs(2),
	Run:  runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().StringVarP(&lookupKind, "kind", "k", "dense_nodes", "Group kind: dense_nodes or ways")
}

func runLookup(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		exitWithError("invalid id", err)
	}
	kind, err := osmdata.ParseKind(lookupKind)
	if err != nil {
		exitWithError("invalid kind", err)
	}

	idx, err := posindex.ReadParquet(context.Background(), args[0])
	if err != nil {
		exitWithError("failed to read index", err)
	}

	entry, ok := idx.Lookup(kind, id)
	if !ok {
		exitWithError(fmt.Sprintf("no %s group at or before id %d", kind, id), nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%d\n", entry.Kind, entry.ID, entry.Offset)
}

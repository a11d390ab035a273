package cmd

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/style"
)

var countStyleFile string

var countCmd = &cobra.Command{
	Use:   "count <input.osm.pbf>",
	Short: "Count objects and how many survive the tag filter",
	Long: `Scan a PBF file and report nodes, ways and relations together with the
number of points and lines an import would produce. Nothing is written.`,
	Args: cobra.ExactArgs(1),
	Run:  runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)

	countCmd.Flags().StringVarP(&countStyleFile, "style", "S", "", "Style YAML file with the tag whitelist")
}

func runCount(cmd *cobra.Command, args []string) {
	log := logger.Get()
	start := time.Now()

	filter, err := loadFilter(countStyleFile)
	if err != nil {
		exitWithError("failed to load style", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer f.Close()

	scanner := osmpbf.New(context.Background(), f, runtime.NumCPU())
	defer scanner.Close()

	var tally style.Tally
	for scanner.Scan() {
		tally.Add(filter, scanner.Object())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		exitWithError("scan failed", err)
	}

	log.Info("Count complete",
		zap.String("input", args[0]),
		zap.Int64("nodes", tally.Nodes),
		zap.Int64("ways", tally.Ways),
		zap.Int64("relations", tally.Relations),
		zap.Int64("points", tally.Points),
		zap.Int64("lines", tally.Lines),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
}

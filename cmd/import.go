package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmgeodb/internal/config"
	"github.com/wegman-software/osmgeodb/internal/decode"
	"github.com/wegman-software/osmgeodb/internal/logger"
	"github.com/wegman-software/osmgeodb/internal/pipeline"
	"github.com/wegman-software/osmgeodb/internal/proj"
	"github.com/wegman-software/osmgeodb/internal/storage"
	"github.com/wegman-software/osmgeodb/internal/style"
	"github.com/wegman-software/osmgeodb/internal/tagtransform"
)

var projectionStr string

var importCmd = &cobra.Command{
	Use:   "import <input.osm.pbf>",
	Short: "Import tagged nodes and ways into PostGIS",
	Long: `Stream a PBF file into the point and line tables:

  1. Blocks are read from a memory-mapped file and decompressed
  2. Dense node and way groups are decoded and tag filtered
  3. Every decoded group is recorded in the position index
  4. Points and lines are copied into PostgreSQL in one transaction

Any error rolls the whole load back. Plain node and relation groups are
skipped.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&cfg.PointTable, "point-table", cfg.PointTable, "Destination table for points")
	importCmd.Flags().StringVar(&cfg.LineTable, "line-table", cfg.LineTable, "Destination table for lines")
	importCmd.Flags().BoolVar(&cfg.CreateTables, "create-tables", cfg.CreateTables, "Create and truncate the destination tables")
	importCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Entities per COPY")
	importCmd.Flags().IntVar(&cfg.ChannelBuffer, "channel-buffer", cfg.ChannelBuffer, "Buffer size of the block and index channels")
	importCmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Target projection SRID (4326 or 3857)")
	importCmd.Flags().StringVarP(&cfg.StyleFile, "style", "S", "", "Style YAML file with the tag whitelist")
	importCmd.Flags().StringVar(&cfg.TagTransformScript, "tag-transform-script", "", "Lua script with filter_tags_node/filter_tags_way")
	importCmd.Flags().StringVar(&cfg.IndexOutput, "index-output", "", "Write the position index to this Parquet file")
}

func runImport(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := importFile(ctx, cfg, projectionStr)
	stop()
	if err != nil {
		exitWithError("import failed", err)
	}
}

// importFile runs one import. Every resource it opens is released before it
// returns.
func importFile(ctx context.Context, cfg *config.Config, projection string) error {
	log := logger.Get()

	srid, err := proj.ParseSRID(projection)
	if err != nil {
		return fmt.Errorf("invalid projection: %w", err)
	}
	cfg.Projection = srid

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	decoder, closeScript, err := buildDecoder(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tag filtering: %w", err)
	}
	defer closeScript()

	var transform *proj.Transformer
	if cfg.Projection != proj.SRID4326 {
		transform, err = proj.NewTransformer(proj.SRID4326, cfg.Projection)
		if err != nil {
			return fmt.Errorf("invalid projection: %w", err)
		}
	}

	log.Info("Starting osmgeodb import",
		zap.String("input", cfg.InputFile),
		zap.String("output", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.String("schema", cfg.DBSchema),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("projection", cfg.Projection),
	)
	totalStart := time.Now()

	conn, err := storage.Connect(ctx, cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	if cfg.CreateTables {
		if err := conn.PrepareTables(ctx, cfg.DBSchema, cfg.PointTable, cfg.LineTable, cfg.Projection); err != nil {
			return fmt.Errorf("failed to prepare tables: %w", err)
		}
	}
	if err := conn.RegisterTypes(ctx); err != nil {
		return fmt.Errorf("failed to register types: %w", err)
	}

	coordinator := pipeline.NewCoordinator(cfg, conn, decoder, transform)
	stats, err := coordinator.Run(ctx)
	if err != nil {
		return err
	}

	totalElapsed := time.Since(totalStart)
	log.Info("Done",
		zap.Duration("total_time", totalElapsed.Round(time.Second)),
		zap.Int64("rows", stats.Load.TotalRows()),
		zap.Float64("throughput_mb_s", float64(stats.BytesRead)/(1024*1024)/totalElapsed.Seconds()),
	)
	return nil
}

// buildDecoder loads the style and the optional Lua transform. The returned
// func releases the script.
func buildDecoder(cfg *config.Config) (*decode.Decoder, func(), error) {
	filter, err := loadFilter(cfg.StyleFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.TagTransformScript == "" {
		return decode.NewDecoder(filter, nil), func() {}, nil
	}

	script, err := tagtransform.Load(cfg.TagTransformScript)
	if err != nil {
		return nil, nil, err
	}
	logger.Get().Info("Using tag transform script", zap.String("script", cfg.TagTransformScript))
	return decode.NewDecoder(filter, script), script.Close, nil
}

func loadFilter(path string) (*style.Filter, error) {
	if path == "" {
		return style.NewFilter(nil), nil
	}
	styleCfg, err := style.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.Get().Info("Using style", zap.String("style", path), zap.Int("keys", len(styleCfg.Keys)))
	return style.NewFilter(styleCfg), nil
}

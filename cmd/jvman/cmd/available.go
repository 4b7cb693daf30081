package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-jvman/index"
	"go-jvman/internal/api"
	"go-jvman/internal/catalog"
	"go-jvman/internal/models"
)

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "List the builds available for the selected filters",
	Long: `Queries the release API once for every combination of the selected versions,
operating systems, architectures, binary types, implementations and heap sizes,
and prints one row per downloadable binary. Filters not given on the command
line come from the configuration file. Combinations the API rejects are skipped.`,
	RunE: runAvailable,
}

func init() {
	rootCmd.AddCommand(availableCmd)

	availableCmd.Flags().StringSliceP("version", "v", nil, "Version specs to query, e.g. openjdk8,openjdk11 (overrides config)")
	availableCmd.Flags().Bool("nightly", false, "Also query the nightly channel (overrides config)")
	availableCmd.Flags().StringSlice("os", nil, "Operating systems, e.g. linux,mac,windows (overrides config)")
	availableCmd.Flags().StringSlice("arch", nil, "Architectures, e.g. x64,aarch64 (overrides config)")
	availableCmd.Flags().StringSlice("type", nil, "Binary types: jdk, jre (overrides config)")
	availableCmd.Flags().StringSlice("impl", nil, "JVM implementations: hotspot, openj9 (overrides config)")
	availableCmd.Flags().StringSlice("heap-size", nil, "Heap sizes: normal, large (overrides config)")
	availableCmd.Flags().Bool("json", false, "Print rows as JSON instead of a table")
	availableCmd.Flags().Bool("links", false, "Add the binary download link to each table row")
	availableCmd.Flags().Bool("index", false, "Also add every row to the local search index")

	viper.BindPFlag("available.version", availableCmd.Flags().Lookup("version"))
	viper.BindPFlag("available.nightly", availableCmd.Flags().Lookup("nightly"))
	viper.BindPFlag("available.os", availableCmd.Flags().Lookup("os"))
	viper.BindPFlag("available.arch", availableCmd.Flags().Lookup("arch"))
	viper.BindPFlag("available.type", availableCmd.Flags().Lookup("type"))
	viper.BindPFlag("available.impl", availableCmd.Flags().Lookup("impl"))
	viper.BindPFlag("available.heap_size", availableCmd.Flags().Lookup("heap-size"))
	viper.BindPFlag("available.json", availableCmd.Flags().Lookup("json"))
	viper.BindPFlag("available.links", availableCmd.Flags().Lookup("links"))
	viper.BindPFlag("available.index", availableCmd.Flags().Lookup("index"))
}

// applyFilterFlags overrides the configured filters with the ones given on
// the command line.
func applyFilterFlags(cmd *cobra.Command, cfg *models.Config) {
	overrides := []struct {
		flag   string
		key    string
		target *[]string
	}{
		{"version", "available.version", &cfg.Versions},
		{"os", "available.os", &cfg.OperatingSystems},
		{"arch", "available.arch", &cfg.Architectures},
		{"type", "available.type", &cfg.BinaryTypes},
		{"impl", "available.impl", &cfg.Implementations},
		{"heap-size", "available.heap_size", &cfg.HeapSizes},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.target = viper.GetStringSlice(o.key)
			log.Debugf("Overriding %s filter: %v", o.flag, *o.target)
		}
	}
	if cmd.Flags().Changed("nightly") {
		cfg.Nightly = viper.GetBool("available.nightly")
	}
}

func runAvailable(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	applyFilterFlags(cmd, &cfg)

	opts := catalog.OptionsFromConfig(cfg)
	queries := opts.Queries()
	if len(queries) == 0 {
		return errors.New("nothing to query: give at least one version and no empty filter")
	}
	log.Infof("Querying %s with %d parameter combinations", cfg.ApiBaseUrl, len(queries))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var bleveIndex bleve.Index
	if viper.GetBool("available.index") {
		var err error
		bleveIndex, err = index.OpenOrCreateIndex(cfg.BleveIndexPath)
		if err != nil {
			return fmt.Errorf("failed to open search index at %s: %w", cfg.BleveIndexPath, err)
		}
		defer func() {
			if err := bleveIndex.Close(); err != nil {
				log.WithError(err).Error("Error closing Bleve index")
			}
		}()
	}

	writer := uilive.New()
	writer.Out = os.Stderr
	writer.Start()

	indexed := 0
	table := catalog.NewTable(api.NewClient(cfg.ApiBaseUrl, apiHttpClient()))
	table.OnAppend(func(row int, r models.Release) {
		fmt.Fprintf(writer, "Fetched %d binaries...\n", row+1)
		if bleveIndex == nil {
			return
		}
		item, ok := index.ItemFromRelease(r)
		if !ok {
			return
		}
		if err := index.IndexItem(bleveIndex, item); err != nil {
			log.WithError(err).Warnf("Failed to index %s", item.ID)
			return
		}
		indexed++
	})
	table.Populate(ctx, opts)
	table.Wait()
	writer.Stop()

	if ctx.Err() != nil {
		log.Warn("Interrupted, showing partial results")
	}
	if bleveIndex != nil {
		log.Infof("Indexed %d binaries into %s", indexed, cfg.BleveIndexPath)
	}

	rows := table.Rows()
	if viper.GetBool("available.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No binaries found for the selected filters.")
		return nil
	}
	printTable(rows, viper.GetBool("available.links"))
	return nil
}

func printTable(rows []models.Release, withLinks bool) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := append([]string{"#"}, catalog.ColumnNames...)
	if withLinks {
		header = append(header, "Link")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for i, r := range rows {
		values := append([]string{fmt.Sprint(i)}, catalog.RowValues(r)...)
		if withLinks {
			asset, _ := r.Asset()
			values = append(values, asset.BinaryLink)
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}
	tw.Flush()
	fmt.Printf("%d binaries\n", len(rows))
}

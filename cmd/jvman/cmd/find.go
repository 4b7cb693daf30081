package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-jvman/index"
)

var findCmd = &cobra.Command{
	Use:   "find [QUERY]",
	Short: "Search the local index of builds and downloads",
	Long: `Runs a Bleve query-string search against the index filled by
'jvman available --index' and 'jvman download --index'. Fields can be
targeted by name, e.g. '+os:mac +implementation:openj9' or '+type:download'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFind,
}

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().StringP("query", "q", "", "Search query (alternative to the positional argument)")
	findCmd.Flags().IntP("limit", "n", 20, "Maximum number of hits to print")

	viper.BindPFlag("find.query", findCmd.Flags().Lookup("query"))
	viper.BindPFlag("find.limit", findCmd.Flags().Lookup("limit"))
}

func runFind(cmd *cobra.Command, args []string) error {
	query := viper.GetString("find.query")
	if len(args) == 1 {
		query = args[0]
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("search query cannot be empty")
	}

	indexPath := globalConfig.BleveIndexPath
	// Open rather than create; searching must not leave an empty index behind.
	bleveIndex, err := bleve.Open(indexPath)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return fmt.Errorf("no index at %s; run 'jvman available --index' first", indexPath)
		}
		return fmt.Errorf("failed to open index at %s: %w", indexPath, err)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	results, err := index.SearchIndex(bleveIndex, query, viper.GetInt("find.limit"))
	if err != nil {
		return fmt.Errorf("error performing search: %w", err)
	}
	log.Debugf("Search finished. Hits: %d, Total: %d, Took: %s", len(results.Hits), results.Total, results.Took)

	if results.Total == 0 {
		fmt.Println("No results found matching your query.")
		return nil
	}
	for i, hit := range results.Hits {
		fmt.Printf("[%d] %s (score %.2f)\n", i+1, hit.ID, hit.Score)
		fields := make([]string, 0, len(hit.Fields))
		for field := range hit.Fields {
			if field != "id" {
				fields = append(fields, field)
			}
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Printf("  %s: %v\n", field, hit.Fields[field])
		}
	}
	fmt.Printf("%d of %d hits shown\n", len(results.Hits), results.Total)
	return nil
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-jvman/internal/database"
	"go-jvman/internal/helpers"
	"go-jvman/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded downloads",
	Long:  `Lists every download recorded in the history database, oldest first.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check recorded downloads against the filesystem",
	Long: `Checks that every completed download still exists at its recorded path and
that its BLAKE3 digest still matches the one stored when it finished.`,
	Args: cobra.NoArgs,
	RunE: runHistoryVerify,
}

var historyRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a download from the history",
	Long:  `Deletes the history entry with the given ID (or unique ID prefix). With --delete-file the downloaded file is removed as well.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRemove,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyVerifyCmd)
	historyCmd.AddCommand(historyRemoveCmd)

	historyCmd.Flags().Bool("json", false, "Print entries as JSON")
	historyRemoveCmd.Flags().Bool("delete-file", false, "Also delete the downloaded file")

	viper.BindPFlag("history.json", historyCmd.Flags().Lookup("json"))
	viper.BindPFlag("history.delete_file", historyRemoveCmd.Flags().Lookup("delete-file"))
}

// readHistory loads every readable entry. Unreadable ones are reported on
// stderr and left out.
func readHistory(db *database.DB) ([]models.DatabaseEntry, error) {
	entries, err := db.Entries()
	var corrupt *database.CorruptError
	if errors.As(err, &corrupt) {
		fmt.Fprintf(os.Stderr, "Warning: skipped %d unreadable history entries: %s\n",
			len(corrupt.Keys), strings.Join(corrupt.Keys, ", "))
		return entries, nil
	}
	return entries, err
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := readHistory(db)
	if err != nil {
		return err
	}

	if viper.GetBool("history.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []models.DatabaseEntry{}
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No downloads recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tStatus\tFilename\tSize\tStarted\tLabel")
	fmt.Fprintln(tw, "--\t------\t--------\t----\t-------\t-----")
	for _, e := range entries {
		size := helpers.BytesToSize(uint64(e.BytesWritten))
		if e.Status != models.StatusCompleted && e.TotalBytes > 0 {
			size = fmt.Sprintf("%s of %s", size, helpers.BytesToSize(uint64(e.TotalBytes)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID[:min(8, len(e.ID))],
			e.Status,
			e.Filename,
			size,
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Label,
		)
	}
	tw.Flush()
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

func runHistoryVerify(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := readHistory(db)
	if err != nil {
		return err
	}

	var checked, ok, missing, mismatched int
	for _, e := range entries {
		if e.Status != models.StatusCompleted {
			continue
		}
		checked++
		logger := log.WithFields(log.Fields{"id": e.ID, "path": e.FilePath})

		if _, err := os.Stat(e.FilePath); err != nil {
			missing++
			logger.Warn("File missing")
			fmt.Printf("MISSING   %s\n", e.FilePath)
			continue
		}
		if e.Blake3 == "" {
			ok++
			logger.Debug("No digest recorded, existence only")
			fmt.Printf("OK        %s (no digest recorded)\n", e.FilePath)
			continue
		}
		if !helpers.CheckHash(e.FilePath, models.Hashes{BLAKE3: e.Blake3}) {
			mismatched++
			logger.Warn("Digest mismatch")
			fmt.Printf("MISMATCH  %s\n", e.FilePath)
			continue
		}
		ok++
		fmt.Printf("OK        %s\n", e.FilePath)
	}

	fmt.Printf("Checked %d completed downloads: %d ok, %d missing, %d mismatched\n", checked, ok, missing, mismatched)
	if missing+mismatched > 0 {
		return fmt.Errorf("%d downloads failed verification", missing+mismatched)
	}
	return nil
}

func runHistoryRemove(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	entry, err := lookupEntry(db, args[0])
	if err != nil {
		return err
	}

	if viper.GetBool("history.delete_file") && entry.FilePath != "" {
		if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", entry.FilePath, err)
		}
		log.Infof("Deleted %s", entry.FilePath)
	}
	if err := db.DeleteEntry(entry.ID); err != nil {
		return err
	}
	fmt.Printf("Removed %s from history\n", entry.ID)
	return nil
}

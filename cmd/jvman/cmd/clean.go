package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-jvman/internal/helpers"
	"go-jvman/internal/models"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete partial files left by stopped or failed downloads",
	Long: `Removes the files of every history entry that did not complete: stopped,
failed, or still marked as downloading by a process that no longer runs.
Completed downloads are never touched, including when a later download
finished into the same path as a stopped one.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("dry-run", false, "Only list what would be deleted")
	cleanCmd.Flags().Bool("purge", false, "Also drop the cleaned entries from the history")

	viper.BindPFlag("clean.dry_run", cleanCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("clean.purge", cleanCmd.Flags().Lookup("purge"))
}

func runClean(cmd *cobra.Command, args []string) error {
	dryRun := viper.GetBool("clean.dry_run")
	purge := viper.GetBool("clean.purge")

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := readHistory(db)
	if err != nil {
		return err
	}

	completed := completedPaths(entries)

	var removed, failed int
	var freed int64
	for _, e := range entries {
		if e.Status == models.StatusCompleted {
			continue
		}
		if completed[filepath.Clean(e.FilePath)] {
			log.Debugf("Keeping %s, it belongs to a completed download", e.FilePath)
		} else if e.FilePath != "" {
			info, statErr := os.Stat(e.FilePath)
			switch {
			case os.IsNotExist(statErr):
				log.Debugf("Partial file for %s already gone", e.ID)
			case statErr != nil:
				log.WithError(statErr).Warnf("Cannot access %s", e.FilePath)
				failed++
				continue
			case dryRun:
				fmt.Printf("Would remove %s (%s, %s)\n", e.FilePath, e.Status, helpers.BytesToSize(uint64(info.Size())))
			default:
				if err := os.Remove(e.FilePath); err != nil {
					log.WithError(err).Errorf("Failed to remove %s", e.FilePath)
					failed++
					continue
				}
				log.Infof("Removed %s", e.FilePath)
				removed++
				freed += info.Size()
			}
		}
		if purge && !dryRun {
			if err := db.DeleteEntry(e.ID); err != nil {
				log.WithError(err).Warnf("Failed to drop history entry %s", e.ID)
			}
		}
	}

	if dryRun {
		return nil
	}
	fmt.Printf("Removed %d partial files (%s freed), %d failures\n", removed, helpers.BytesToSize(uint64(freed)), failed)
	if failed > 0 {
		return fmt.Errorf("%d files could not be removed", failed)
	}
	return nil
}

// completedPaths returns the files owned by completed downloads.
func completedPaths(entries []models.DatabaseEntry) map[string]bool {
	paths := make(map[string]bool)
	for _, e := range entries {
		if e.Status == models.StatusCompleted && e.FilePath != "" {
			paths[filepath.Clean(e.FilePath)] = true
		}
	}
	return paths
}

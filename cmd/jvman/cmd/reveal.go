package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-jvman/internal/platform"
)

var revealCmd = &cobra.Command{
	Use:   "reveal PATH|ID",
	Short: "Show a file or directory in the system file manager",
	Long: `Opens the file manager on PATH, selecting the file where the platform
supports it. When PATH does not exist it is looked up as a history ID (or ID
prefix) and the recorded download is shown instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runReveal,
}

func init() {
	rootCmd.AddCommand(revealCmd)
}

func runReveal(cmd *cobra.Command, args []string) error {
	target := args[0]
	if _, err := os.Stat(target); err != nil {
		db, dbErr := openDatabase()
		if dbErr != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
		entry, lookupErr := lookupEntry(db, target)
		db.Close()
		if lookupErr != nil {
			return fmt.Errorf("%s is neither a path nor a history id", target)
		}
		if entry.FilePath == "" {
			return fmt.Errorf("history entry %s has no file", entry.ID)
		}
		target = entry.FilePath
	}
	return platform.Reveal(target)
}

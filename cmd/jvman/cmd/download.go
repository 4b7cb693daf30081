package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-jvman/index"
	"go-jvman/internal/database"
	"go-jvman/internal/downloader"
	"go-jvman/internal/helpers"
	"go-jvman/internal/models"
)

// checksumSuffix is appended to a binary link to find its published checksum.
const checksumSuffix = ".sha256.txt"

var downloadCmd = &cobra.Command{
	Use:   "download URL",
	Short: "Download a binary with live progress",
	Long: `Streams URL into the save directory in fixed-size chunks, naming the file
after the server's Content-Disposition header. Press Ctrl-C to stop; the partial
file is kept and can be removed later with 'jvman clean'. Every download is
recorded in the history database.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().String("checksum-url", "", "URL of a sha256sum document to verify the file against")
	downloadCmd.Flags().Bool("verify", false, "Verify against URL"+checksumSuffix+" when no --checksum-url is given (overrides config)")
	downloadCmd.Flags().StringP("dir", "d", "", "Destination directory (defaults to the save path)")
	downloadCmd.Flags().String("label", "", "Label stored with the history entry")
	downloadCmd.Flags().Int("chunk-size", 0, "Bytes per chunk (overrides config)")
	downloadCmd.Flags().Bool("index", false, "Add the finished download to the local search index")

	viper.BindPFlag("download.checksum_url", downloadCmd.Flags().Lookup("checksum-url"))
	viper.BindPFlag("download.verify", downloadCmd.Flags().Lookup("verify"))
	viper.BindPFlag("download.dir", downloadCmd.Flags().Lookup("dir"))
	viper.BindPFlag("download.label", downloadCmd.Flags().Lookup("label"))
	viper.BindPFlag("download.chunk_size", downloadCmd.Flags().Lookup("chunk-size"))
	viper.BindPFlag("download.index", downloadCmd.Flags().Lookup("index"))
}

func runDownload(cmd *cobra.Command, args []string) error {
	sourceURL := args[0]

	destDir := viper.GetString("download.dir")
	if destDir == "" {
		destDir = globalConfig.SavePath
	}
	chunkSize := globalConfig.ChunkSize
	if n := viper.GetInt("download.chunk_size"); n > 0 {
		chunkSize = n
	}
	checksumURL := viper.GetString("download.checksum_url")
	verify := globalConfig.VerifyChecksums
	if cmd.Flags().Changed("verify") {
		verify = viper.GetBool("download.verify")
	}
	if checksumURL == "" && verify {
		checksumURL = sourceURL + checksumSuffix
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	dl := downloader.NewDownloader(downloadHttpClient(), downloader.WithChunkSize(chunkSize))
	task := dl.Start(cmd.Context(), sourceURL, destDir)

	entry := models.DatabaseEntry{
		ID:        task.ID,
		Label:     viper.GetString("download.label"),
		SourceURL: sourceURL,
		Status:    models.StatusDownloading,
		StartedAt: task.StartedAt,
	}
	if err := db.PutEntry(entry); err != nil {
		log.WithError(err).Warn("Failed to record download in history")
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	writer := uilive.New()
	writer.Start()
	renderProgress(writer, task, interrupts, func() { signal.Stop(interrupts) })
	writer.Stop()

	taskErr := task.Wait()
	entry = finishEntry(entry, task, taskErr)

	if task.State() == downloader.StateCompleted && checksumURL != "" {
		if err := downloader.VerifyChecksum(cmd.Context(), apiHttpClient(), checksumURL, task.Path()); err != nil {
			entry.Status = models.StatusFailed
			entry.ErrorDetails = err.Error()
			taskErr = err
		} else {
			fmt.Printf("Checksum verified against %s\n", checksumURL)
		}
	}

	if err := db.PutEntry(entry); err != nil {
		log.WithError(err).Warn("Failed to update download history")
	}
	if entry.Status == models.StatusCompleted && viper.GetBool("download.index") {
		indexEntry(entry)
	}

	switch entry.Status {
	case models.StatusCompleted:
		fmt.Printf("Saved %s (%s) [history id %s]\n", entry.FilePath, helpers.BytesToSize(uint64(entry.TotalBytes)), entry.ID)
	case models.StatusStopped:
		fmt.Printf("Stopped after %s; partial file kept at %s\n", helpers.BytesToSize(uint64(entry.BytesWritten)), entry.FilePath)
	}
	return taskErr
}

// renderProgress consumes the task's events until the stream closes, stopping
// the task on the first interrupt. release is called once the interrupt is
// handled so that another Ctrl-C terminates the process if the server stalls.
func renderProgress(writer *uilive.Writer, task *downloader.Task, interrupts <-chan os.Signal, release func()) {
	var filename string
	var total int64
	events := task.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case downloader.EventFilenameFound:
				filename = ev.Filename
			case downloader.EventFilesizeFound:
				total = ev.Size
			case downloader.EventDownloadBegun:
				fmt.Fprintf(writer, "%s: starting (%s)\n", filename, helpers.BytesToSize(uint64(total)))
			case downloader.EventBytesChanged:
				percent := 100.0
				if total > 0 {
					percent = float64(ev.Bytes) / float64(total) * 100
				}
				fmt.Fprintf(writer, "%s: %s / %s (%.1f%%)\n", filename,
					helpers.BytesToSize(uint64(ev.Bytes)), helpers.BytesToSize(uint64(total)), percent)
			case downloader.EventDownloadEnded:
				log.WithField("task", task.ID).Debugf("Download ended: %s", ev.Path)
			}
		case <-interrupts:
			fmt.Fprintln(writer.Newline(), "Interrupt received, stopping download (Ctrl-C again to abort)...")
			task.Stop()
			interrupts = nil
			if release != nil {
				release()
			}
		}
	}
}

// finishEntry copies the outcome of a finished task into its history entry.
func finishEntry(entry models.DatabaseEntry, task *downloader.Task, taskErr error) models.DatabaseEntry {
	entry.Filename = task.Filename()
	entry.FilePath = task.Path()
	entry.TotalBytes = task.TotalBytes()
	entry.BytesWritten = task.BytesWritten()
	entry.FinishedAt = time.Now()

	switch task.State() {
	case downloader.StateCompleted:
		entry.Status = models.StatusCompleted
		sum, err := helpers.FileBlake3(entry.FilePath)
		if err != nil {
			log.WithError(err).Warnf("Could not hash %s", entry.FilePath)
		}
		entry.Blake3 = sum
	case downloader.StateStopped:
		entry.Status = models.StatusStopped
	default:
		entry.Status = models.StatusFailed
		if taskErr != nil {
			entry.ErrorDetails = taskErr.Error()
		}
	}
	return entry
}

func indexEntry(entry models.DatabaseEntry) {
	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Failed to open search index")
		return
	}
	defer bleveIndex.Close()
	if err := index.IndexItem(bleveIndex, index.ItemFromEntry(entry)); err != nil {
		log.WithError(err).Warnf("Failed to index download %s", entry.ID)
	}
}

// lookupEntry resolves a full history ID or a unique prefix of one.
func lookupEntry(db *database.DB, id string) (models.DatabaseEntry, error) {
	entry, err := db.FindEntry(id)
	if errors.Is(err, database.ErrNotFound) {
		return entry, fmt.Errorf("no history entry with id %s", id)
	}
	return entry, err
}

package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gosuri/uilive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-jvman/internal/downloader"
)

func TestInterruptReleasesSignalHandler(t *testing.T) {
	stalled := make(chan struct{})
	var unstall sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Content-Disposition", "attachment; filename=stalled.tar.gz")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-stalled:
			w.Write(make([]byte, 4096))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer unstall.Do(func() { close(stalled) })

	task := downloader.NewDownloader(server.Client()).Start(context.Background(), server.URL, t.TempDir())

	writer := uilive.New()
	writer.Out = io.Discard
	interrupts := make(chan os.Signal, 1)
	released := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		renderProgress(writer, task, interrupts, func() { close(released) })
		close(finished)
	}()

	interrupts <- os.Interrupt
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler not released after the first interrupt")
	}

	// The body read is still blocked, so only the released handler can end it.
	select {
	case <-finished:
		t.Fatal("progress returned before the worker exited")
	case <-time.After(50 * time.Millisecond):
	}

	unstall.Do(func() { close(stalled) })
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("progress did not return after the worker exited")
	}
	require.NoError(t, task.Wait())
	assert.Equal(t, downloader.StateStopped, task.State())
}

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Operating system constants
const (
	OSDarwin  = "darwin"
	OSWindows = "windows"
)

// Command constants
const (
	ExplorerCommand = "explorer.exe"
	OpenCommand     = "open"
	XDGOpenCommand  = "xdg-open"

	MacOSRevealFlag    = "-R"
	WindowsSelectParam = "/select,"
)

// LinuxFileManagers are tried in order when xdg-open is not installed.
var LinuxFileManagers = []string{"nautilus", "dolphin", "thunar", "nemo", "pcmanfm"}

// RevealCommand returns the command line that shows path in the file manager
// of goos. Windows and macOS select a file inside its folder; elsewhere the
// directory (the parent, for a file) is opened.
func RevealCommand(goos, path string, isDir bool) []string {
	switch goos {
	case OSWindows:
		if isDir {
			return []string{ExplorerCommand, path}
		}
		return []string{ExplorerCommand, WindowsSelectParam, path}
	case OSDarwin:
		return []string{OpenCommand, MacOSRevealFlag, path}
	default:
		if !isDir {
			path = filepath.Dir(path)
		}
		return []string{XDGOpenCommand, path}
	}
}

// Reveal shows path in the system file manager. The command is started and
// not waited for.
func Reveal(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("cannot reveal %s: %w", absPath, err)
	}

	args := RevealCommand(runtime.GOOS, absPath, info.IsDir())
	if _, err := exec.LookPath(args[0]); err != nil && args[0] == XDGOpenCommand {
		args, err = fallbackFileManager(args[1])
		if err != nil {
			return err
		}
	}

	log.Debugf("Revealing %s with %v", absPath, args)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	go func() {
		// explorer.exe exits non-zero even on success.
		if err := cmd.Wait(); err != nil {
			log.WithError(err).Debugf("%s exited", args[0])
		}
	}()
	return nil
}

func fallbackFileManager(dir string) ([]string, error) {
	for _, fm := range LinuxFileManagers {
		if _, err := exec.LookPath(fm); err == nil {
			return []string{fm, dir}, nil
		}
	}
	return nil, fmt.Errorf("no suitable file manager found")
}

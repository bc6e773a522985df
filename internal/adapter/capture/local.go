package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"lookback/internal/domain"
)

// filenameLayout is the timestamp embedded in screenshot filenames.
const filenameLayout = "20060102_150405"

// LocalScreenshotter implements domain.CaptureService by shelling out to the
// platform screenshot tool. The command template contains a {path}
// placeholder replaced with the target file.
type LocalScreenshotter struct {
	dir     string
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocalScreenshotter creates a screenshotter writing PNGs into dir. An
// empty command picks the platform default tool.
func NewLocalScreenshotter(dir, command string, timeout time.Duration, logger *slog.Logger) (*LocalScreenshotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}
	if command == "" {
		command = defaultCommand()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LocalScreenshotter{
		dir:     dir,
		command: command,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// defaultCommand returns the platform screenshot tool invocation.
func defaultCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "screencapture -x {path}"
	case "windows":
		// PowerShell has no built-in full-screen capture flag; rely on a
		// user-provided capture_command there.
		return ""
	default:
		// Wayland compositors ship grim; X11 setups need capture_command.
		return "grim {path}"
	}
}

// Capture grabs one full-screen screenshot and returns its path and PNG
// bytes.
func (c *LocalScreenshotter) Capture(ctx context.Context) (domain.Capture, error) {
	// Split the template before substituting so a path with spaces stays a
	// single argument.
	args := strings.Fields(c.command)
	if len(args) == 0 {
		return domain.Capture{}, domain.NewDomainError("capture", domain.ErrCaptureFailed,
			"no capture command configured for this platform")
	}

	filename := fmt.Sprintf("screenshot_%s.png", time.Now().Format(filenameLayout))
	path := filepath.Join(c.dir, filename)
	for i, a := range args {
		args[i] = strings.ReplaceAll(a, "{path}", path)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = err.Error()
		}
		return domain.Capture{}, domain.NewDomainError("capture", domain.ErrCaptureFailed, detail)
	}

	png, err := os.ReadFile(path)
	if err != nil {
		return domain.Capture{}, domain.NewDomainError("capture", domain.ErrCaptureFailed,
			fmt.Sprintf("read screenshot: %v", err))
	}
	if len(png) == 0 {
		return domain.Capture{}, domain.NewDomainError("capture", domain.ErrCaptureFailed,
			"capture tool produced an empty file")
	}

	c.logger.Debug("screenshot written", "path", path, "bytes", len(png))
	return domain.Capture{Path: path, PNG: png}, nil
}

// RetainLatest deletes all but the n most recent screenshots by modification
// time. Missing files during removal are ignored.
func (c *LocalScreenshotter) RetainLatest(n int) error {
	if n <= 0 {
		return nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list screenshots: %w", err)
	}

	type shot struct {
		path string
		mod  time.Time
	}
	var shots []shot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		shots = append(shots, shot{path: filepath.Join(c.dir, e.Name()), mod: info.ModTime()})
	}
	if len(shots) <= n {
		return nil
	}

	sort.Slice(shots, func(i, j int) bool { return shots[i].mod.Before(shots[j].mod) })
	for _, s := range shots[:len(shots)-n] {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove old screenshot", "path", s.path, "error", err)
		}
	}
	return nil
}

// Latest returns the most recent screenshot on disk, or ok=false when none
// exist.
func (c *LocalScreenshotter) Latest() (domain.Capture, bool, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Capture{}, false, nil
		}
		return domain.Capture{}, false, fmt.Errorf("list screenshots: %w", err)
	}

	var (
		latestPath string
		latestMod  time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latestMod = info.ModTime()
			latestPath = filepath.Join(c.dir, e.Name())
		}
	}
	if latestPath == "" {
		return domain.Capture{}, false, nil
	}

	png, err := os.ReadFile(latestPath)
	if err != nil {
		return domain.Capture{}, false, fmt.Errorf("read screenshot: %w", err)
	}
	return domain.Capture{Path: latestPath, PNG: png}, true, nil
}

var _ domain.CaptureService = (*LocalScreenshotter)(nil)

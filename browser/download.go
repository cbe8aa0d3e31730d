package browser

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/types"
	"go.uber.org/zap"
)

// partialSuffixes mark files Chrome is still writing.
var partialSuffixes = []string{".crdownload", ".tmp", ".part"}

// Capture waits for a download to land in a job's staging directory.
//
// The browser's download event is only a hint: Capture always waits the
// settle delay, then polls the directory and reads the first complete file
// whose size has stopped changing. The file is deleted as soon as it is read.
type Capture struct {
	settleDelay  time.Duration
	pollInterval time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewCapture creates a capture. collector may be nil.
func NewCapture(settleDelay, pollInterval time.Duration, collector *metrics.Collector, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Capture{
		settleDelay:  settleDelay,
		pollInterval: pollInterval,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "download_capture")),
	}
}

// Await returns the first file that appears in dir within deadline, measured
// from the call. hint may be nil. The deadline is raised to the settle delay
// plus two polls, the least time a stable file needs to be recognised. An
// empty directory at the deadline is DOWNLOAD_TIMEOUT.
func (c *Capture) Await(ctx context.Context, dir string, deadline time.Duration, hint <-chan string) (types.Document, error) {
	if floor := c.minDeadline(); deadline < floor {
		deadline = floor
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	settle := time.NewTimer(c.settleDelay)
	defer settle.Stop()

	for waiting := true; waiting; {
		select {
		case name, ok := <-hint:
			if ok {
				c.logger.Debug("download hint received", zap.String("file", name))
			}
			hint = nil
		case <-settle.C:
			waiting = false
		case <-ctx.Done():
			return c.lastChance(dir, ctx.Err())
		}
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var (
		candidate string
		lastSize  int64 = -1
	)
	for {
		name, size, err := firstComplete(dir)
		if err != nil {
			return types.Document{}, types.NewError(types.ErrDownloadTimeout, "staging directory unreadable").WithCause(err)
		}
		if name != "" {
			// Read only once the size holds across two polls.
			if name == candidate && size == lastSize && size > 0 {
				return c.consume(dir, name)
			}
			candidate, lastSize = name, size
		}

		select {
		case <-ctx.Done():
			return c.lastChance(dir, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Capture) minDeadline() time.Duration {
	return c.settleDelay + 2*c.pollInterval
}

// lastChance runs when the deadline expires. A complete, non-empty file that
// is already present is still taken; only a cancelled caller gives it up.
func (c *Capture) lastChance(dir string, cause error) (types.Document, error) {
	if !errors.Is(cause, context.DeadlineExceeded) {
		return types.Document{}, c.timeout(dir, cause)
	}
	name, size, err := firstComplete(dir)
	if err != nil || name == "" || size == 0 {
		return types.Document{}, c.timeout(dir, cause)
	}
	c.logger.Debug("taking file found at the deadline", zap.String("file", name))
	return c.consume(dir, name)
}

// consume reads the file and removes it whether or not the read succeeded.
func (c *Capture) consume(dir, name string) (types.Document, error) {
	path := filepath.Join(dir, name)
	data, readErr := os.ReadFile(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove captured file", zap.String("path", path), zap.Error(err))
	}
	if readErr != nil {
		return types.Document{}, types.NewError(types.ErrDownloadTimeout, fmt.Sprintf("failed to read %s", name)).WithCause(readErr)
	}

	c.metrics.RecordDownload(len(data))
	c.logger.Debug("download captured", zap.String("file", name), zap.Int("bytes", len(data)))
	return types.Document{
		Name:     name,
		MimeType: mimeTypeOf(name),
		Data:     data,
	}, nil
}

func (c *Capture) timeout(dir string, cause error) error {
	c.logger.Debug("no download before deadline", zap.String("dir", dir))
	return types.NewError(types.ErrDownloadTimeout, "no file was downloaded before the deadline").WithCause(cause)
}

// firstComplete returns the lexically first regular, non-partial file in dir.
func firstComplete(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if !e.Type().IsRegular() || isPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Renamed away between ReadDir and Info.
			continue
		}
		return e.Name(), info.Size(), nil
	}
	return "", 0, nil
}

func isPartial(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func mimeTypeOf(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/pdf"
}

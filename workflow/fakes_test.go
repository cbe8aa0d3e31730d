package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/sgaflow/browser"
	"github.com/BaSui01/sgaflow/types"
	"github.com/stretchr/testify/require"
)

var imageSrc = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("IMG1"))

// fakeSession records what the engine asked for and can fail at one point.
type fakeSession struct {
	dir      string
	portal   Portal
	failAt   string // selector, "navigate" or "label"
	download func(attempt int) []byte

	mu      sync.Mutex
	typed   map[string][]string
	clicks  map[string]int
	submits int
	closes  int32
	hint    chan string
}

func newFakeSession(dir string, portal Portal) *fakeSession {
	return &fakeSession{
		dir:    dir,
		portal: portal,
		typed:  make(map[string][]string),
		clicks: make(map[string]int),
		hint:   make(chan string, 1),
		download: func(int) []byte {
			return []byte("%PDF-1.4 doc")
		},
	}
}

func (f *fakeSession) check(ctx context.Context, key string) error {
	if atomic.LoadInt32(&f.closes) > 0 {
		return types.NewError(types.ErrSession, "browser session is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failAt == key {
		return types.NewError(types.ErrElementNotFound, fmt.Sprintf("element %s not found", key)).WithCause(context.DeadlineExceeded)
	}
	return nil
}

func (f *fakeSession) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if f.failAt == "navigate" {
		return types.NewError(types.ErrNavigationTimeout, "network did not go idle").WithCause(context.DeadlineExceeded)
	}
	return f.check(ctx, url)
}

func (f *fakeSession) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	return f.check(ctx, selector)
}

func (f *fakeSession) Type(ctx context.Context, selector, text string, _ time.Duration) error {
	if err := f.check(ctx, "type:"+selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] = append(f.typed[selector], text)
	return nil
}

func (f *fakeSession) Click(ctx context.Context, selector string, _ time.Duration) error {
	if err := f.check(ctx, "click:"+selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks[selector]++
	return nil
}

func (f *fakeSession) ClickByLabel(ctx context.Context, tag, label string, _ time.Duration) error {
	if err := f.check(ctx, "label"); err != nil {
		return err
	}
	if tag != f.portal.SubmitTag || label != f.portal.SubmitLabel {
		return types.NewError(types.ErrElementNotFound, "wrong label")
	}

	f.mu.Lock()
	attempt := f.submits
	f.submits++
	f.mu.Unlock()

	if data := f.download(attempt); data != nil {
		select {
		case f.hint <- "doc.pdf":
		default:
		}
		// Written through a partial name, the way Chrome does it.
		partial := filepath.Join(f.dir, "doc.pdf.crdownload")
		if err := os.WriteFile(partial, data, 0o644); err != nil {
			return err
		}
		return os.Rename(partial, filepath.Join(f.dir, "doc.pdf"))
	}
	return nil
}

func (f *fakeSession) ReadAttribute(ctx context.Context, selector, attr string, _ time.Duration) (string, error) {
	if err := f.check(ctx, "attr:"+selector); err != nil {
		return "", err
	}
	if attr != "src" {
		return "", types.NewError(types.ErrElementNotFound, "no such attribute")
	}
	return imageSrc, nil
}

func (f *fakeSession) DownloadStarted() <-chan string { return f.hint }

func (f *fakeSession) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func (f *fakeSession) typedInto(selector string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typed[selector]...)
}

// fakeSolver and fakeInterpreter return canned answers.
type fakeSolver struct {
	answer string
	err    error
	calls  int32
	seen   []types.ChallengeImage
	mu     sync.Mutex
}

func (s *fakeSolver) Solve(_ context.Context, img types.ChallengeImage) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	s.seen = append(s.seen, img)
	s.mu.Unlock()
	return s.answer, s.err
}

type fakeInterpreter struct {
	text string
	err  error
	echo bool
	docs chan types.Document
}

func (i *fakeInterpreter) Extract(_ context.Context, doc types.Document) (string, error) {
	if i.docs != nil {
		i.docs <- doc
	}
	if i.err != nil {
		return "", i.err
	}
	if i.echo {
		return string(doc.Data), nil
	}
	return i.text, nil
}

type panicCapture struct{}

func (panicCapture) Await(context.Context, string, time.Duration, <-chan string) (types.Document, error) {
	panic("capture exploded")
}

// harness wires an Engine to fakes and counts opened sessions.
type harness struct {
	engine   *Engine
	solver   *fakeSolver
	interp   *fakeInterpreter
	opened   int32
	openErr  error
	sessions []*fakeSession
	dirs     []string
	mu       sync.Mutex
	setup    func(*fakeSession)
}

func testOptions() Options {
	return Options{
		Portal:            DefaultPortal(),
		NavigationTimeout: time.Second,
		ElementTimeout:    time.Second,
		DownloadDeadline:  300 * time.Millisecond,
		InferenceTimeout:  time.Second,
		StagingDir:        "",
	}
}

func newHarness(t *testing.T, opts Options, setup func(*fakeSession)) *harness {
	t.Helper()
	if opts.StagingDir == "" {
		opts.StagingDir = t.TempDir()
	}
	h := &harness{
		solver: &fakeSolver{answer: "Ab3 9"},
		interp: &fakeInterpreter{text: "Texto extraído."},
		setup:  setup,
	}

	engine, err := NewEngine(opts, Dependencies{
		OpenSession: func(ctx context.Context, dir string) (Session, error) {
			if h.openErr != nil {
				return nil, h.openErr
			}
			atomic.AddInt32(&h.opened, 1)
			s := newFakeSession(dir, opts.Portal)
			if h.setup != nil {
				h.setup(s)
			}
			h.mu.Lock()
			h.sessions = append(h.sessions, s)
			h.dirs = append(h.dirs, dir)
			h.mu.Unlock()
			return s, nil
		},
		Solver:      h.solver,
		Interpreter: h.interp,
		Capture:     browser.NewCapture(20*time.Millisecond, 5*time.Millisecond, nil, nil),
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) totalCloses() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int32
	for _, s := range h.sessions {
		n += atomic.LoadInt32(&s.closes)
	}
	return n
}

var errBoom = errors.New("boom")

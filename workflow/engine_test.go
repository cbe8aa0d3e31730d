package workflow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/sgaflow/browser"
	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/testutil"
	"github.com/BaSui01/sgaflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Scenario_Success(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	portal := DefaultPortal()

	result := h.engine.Run(context.Background(), types.Job{ID: "job-1", ProtocolNumber: "17.120.535-2"})

	require.NotNil(t, result)
	require.True(t, result.Success, result.ErrorMessage())
	assert.Equal(t, "Texto extraído.", result.ExtractedText)
	assert.Equal(t, []byte("%PDF-1.4 doc"), result.Document)
	assert.Equal(t, string(StateDone), result.FinalState)
	assert.Nil(t, result.Error)
	assert.Equal(t, "job-1", result.JobID)

	require.Len(t, h.sessions, 1)
	s := h.sessions[0]
	assert.Equal(t, []string{"17.120.535-2"}, s.typedInto(portal.ProtocolInput))
	assert.Equal(t, []string{"Ab39"}, s.typedInto(portal.AnswerInput))
	assert.Equal(t, 1, s.clicks[portal.SearchButton])
	assert.Equal(t, 1, s.clicks[portal.ResultLink])
	assert.Equal(t, int32(1), s.closes)

	require.Len(t, h.solver.seen, 1)
	assert.Equal(t, []byte("IMG1"), h.solver.seen[0].Data)
	assert.Equal(t, "image/png", h.solver.seen[0].MimeType)

	_, err := os.Stat(h.dirs[0])
	assert.True(t, os.IsNotExist(err), "staging directory must not outlive the job")
}

func TestEngine_Scenario_DownloadTimeout(t *testing.T) {
	h := newHarness(t, testOptions(), func(s *fakeSession) {
		s.download = func(int) []byte { return nil }
	})

	result := h.engine.Run(context.Background(), types.Job{ID: "job-2", ProtocolNumber: "17.120.535-2"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrDownloadTimeout, result.Error.Code)
	assert.Equal(t, string(StateSubmitted), result.Error.State)
	assert.Equal(t, string(StateFailed), result.FinalState)
	assert.Empty(t, result.ExtractedText)
	assert.Equal(t, int32(1), h.totalCloses(), "session closed exactly once")
	assert.Equal(t, int32(1), h.opened)
}

func TestEngine_PlaceholderPassesThrough(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.interp.text = "EM BRANCO"

	result := h.engine.Run(context.Background(), types.Job{ID: "job-3", ProtocolNumber: "1"})

	require.True(t, result.Success, result.ErrorMessage())
	assert.Equal(t, "EM BRANCO", result.ExtractedText, "the engine must not filter interpreter output")
}

func TestEngine_ConcurrentJobsAreIsolated(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.interp.echo = true
	h.setup = func(s *fakeSession) {
		dir := s.dir
		s.download = func(int) []byte { return []byte("content-of-" + dir) }
	}

	jobs := []types.Job{
		{ID: "job-a", ProtocolNumber: "11.111.111-1"},
		{ID: "job-b", ProtocolNumber: "22.222.222-2"},
	}
	results := make([]*types.JobResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job types.Job) {
			defer wg.Done()
			results[i] = h.engine.Run(context.Background(), job)
		}(i, job)
	}
	wg.Wait()

	require.Len(t, h.dirs, 2)
	assert.NotEqual(t, h.dirs[0], h.dirs[1])

	texts := map[string]bool{}
	for i, r := range results {
		require.True(t, r.Success, r.ErrorMessage())
		assert.Equal(t, jobs[i].ID, r.JobID)
		texts[r.ExtractedText] = true
	}
	for _, dir := range h.dirs {
		assert.True(t, texts["content-of-"+dir], "each job reads only its own download")
	}
	assert.Equal(t, int32(2), h.totalCloses())
}

func TestEngine_ChallengeRetry(t *testing.T) {
	opts := testOptions()
	opts.ChallengeRetries = 1
	h := newHarness(t, opts, func(s *fakeSession) {
		s.download = func(attempt int) []byte {
			if attempt == 0 {
				return nil
			}
			return []byte("%PDF second try")
		}
	})

	result := h.engine.Run(context.Background(), types.Job{ID: "job-r", ProtocolNumber: "1"})

	require.True(t, result.Success, result.ErrorMessage())
	assert.Equal(t, int32(2), h.solver.calls)
	s := h.sessions[0]
	assert.Equal(t, 1, s.clicks[DefaultPortal().DocumentButton], "document page is opened once")
	assert.Equal(t, []string{"Ab39", "Ab39"}, s.typedInto(DefaultPortal().AnswerInput))
	assert.Equal(t, int32(1), s.closes)
}

func TestEngine_NoRetryByDefault(t *testing.T) {
	h := newHarness(t, testOptions(), func(s *fakeSession) {
		s.download = func(attempt int) []byte {
			if attempt == 0 {
				return nil
			}
			return []byte("%PDF")
		}
	})

	result := h.engine.Run(context.Background(), types.Job{ID: "job-n", ProtocolNumber: "1"})
	assert.False(t, result.Success)
	assert.Equal(t, int32(1), h.solver.calls)
}

func TestEngine_SessionOpenFailure(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.openErr = errBoom

	result := h.engine.Run(context.Background(), types.Job{ID: "job-s", ProtocolNumber: "1"})

	require.False(t, result.Success)
	assert.Equal(t, types.ErrSession, result.Error.Code)
	assert.Equal(t, string(StateInit), result.Error.State)
	assert.ErrorIs(t, result.Error, errBoom)
	assert.Equal(t, int32(0), h.opened)
}

func TestEngine_InvalidJob(t *testing.T) {
	h := newHarness(t, testOptions(), nil)

	result := h.engine.Run(context.Background(), types.Job{ID: "job-x"})
	require.False(t, result.Success)
	assert.Equal(t, types.ErrInvalidRequest, result.Error.Code)
	assert.Equal(t, int32(0), h.opened)
}

func TestEngine_SolverFailure(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.solver.err = types.NewError(types.ErrInference, "gemini service error")

	result := h.engine.Run(context.Background(), types.Job{ID: "job-i", ProtocolNumber: "1"})
	require.False(t, result.Success)
	assert.Equal(t, types.ErrInference, result.Error.Code)
	assert.Equal(t, string(StateChallengePresented), result.Error.State)
	assert.Equal(t, int32(1), h.totalCloses())
}

func TestEngine_EmptyAnswer(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.solver.answer = " -- "

	result := h.engine.Run(context.Background(), types.Job{ID: "job-e", ProtocolNumber: "1"})
	require.False(t, result.Success)
	assert.Equal(t, types.ErrInference, result.Error.Code)
}

func TestEngine_UntypedInterpreterError(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.interp.err = errBoom

	result := h.engine.Run(context.Background(), types.Job{ID: "job-u", ProtocolNumber: "1"})
	require.False(t, result.Success)
	assert.Equal(t, types.ErrInference, result.Error.Code)
	assert.Equal(t, string(StateDownloaded), result.Error.State)
	assert.Contains(t, result.ErrorMessage(), "boom")
}

func TestEngine_CapturePanicStillClosesSession(t *testing.T) {
	opts := testOptions()
	opts.StagingDir = t.TempDir()
	var session *fakeSession
	engine, err := NewEngine(opts, Dependencies{
		OpenSession: func(ctx context.Context, dir string) (Session, error) {
			session = newFakeSession(dir, opts.Portal)
			return session, nil
		},
		Solver:      &fakeSolver{answer: "abc"},
		Interpreter: &fakeInterpreter{},
		Capture:     panicCapture{},
	})
	require.NoError(t, err)

	assert.PanicsWithValue(t, "capture exploded", func() {
		engine.Run(context.Background(), types.Job{ID: "job-p", ProtocolNumber: "1"})
	})
	require.NotNil(t, session)
	assert.Equal(t, int32(1), session.closes)

	entries, err := os.ReadDir(opts.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_CallerCancellation(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	result := h.engine.Run(testutil.CancelledContext(), types.Job{ID: "job-c", ProtocolNumber: "1"})
	require.False(t, result.Success)
	assert.Equal(t, int32(1), h.totalCloses())
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	full := Dependencies{
		OpenSession: func(context.Context, string) (Session, error) { return nil, nil },
		Solver:      &fakeSolver{},
		Interpreter: &fakeInterpreter{},
		Capture:     browser.NewCapture(time.Millisecond, time.Millisecond, nil, nil),
	}

	tests := []struct {
		name   string
		mutate func(*Dependencies)
	}{
		{"session factory", func(d *Dependencies) { d.OpenSession = nil }},
		{"solver", func(d *Dependencies) { d.Solver = nil }},
		{"interpreter", func(d *Dependencies) { d.Interpreter = nil }},
		{"capture", func(d *Dependencies) { d.Capture = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := NewEngine(testOptions(), deps)
			assert.Error(t, err)
		})
	}

	_, err := NewEngine(Options{}, full)
	assert.NoError(t, err)
}

func TestEngine_NilSessionFromFactory(t *testing.T) {
	engine, err := NewEngine(testOptions(), Dependencies{
		OpenSession: func(context.Context, string) (Session, error) { return nil, nil },
		Solver:      &fakeSolver{},
		Interpreter: &fakeInterpreter{},
		Capture:     browser.NewCapture(time.Millisecond, time.Millisecond, nil, nil),
	})
	require.NoError(t, err)

	result := engine.Run(context.Background(), types.Job{ID: "j", ProtocolNumber: "1"})
	assert.Equal(t, types.ErrSession, result.Error.Code)
}

func TestEngine_JobDeadline(t *testing.T) {
	opts := Options{
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    30 * time.Second,
		DownloadDeadline:  30 * time.Second,
		InferenceTimeout:  60 * time.Second,
	}
	h := newHarness(t, opts, nil)
	assert.Equal(t, 30*time.Second+180*time.Second+30*time.Second+120*time.Second, h.engine.JobDeadline())

	opts.ChallengeRetries = 1
	h = newHarness(t, opts, nil)
	assert.Equal(t, 360*time.Second+90*time.Second+60*time.Second+30*time.Second, h.engine.JobDeadline())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultWorkflowConfig()
	cfg.PortalURL = "http://portal.test/consulta"
	cfg.ChallengeRetries = 2

	opts := OptionsFromConfig(cfg, 45*time.Second)
	assert.Equal(t, "http://portal.test/consulta", opts.Portal.URL)
	assert.Equal(t, DefaultPortal().AnswerInput, opts.Portal.AnswerInput)
	assert.Equal(t, 45*time.Second, opts.InferenceTimeout)
	assert.Equal(t, 2, opts.ChallengeRetries)
	assert.Equal(t, cfg.DownloadDeadline, opts.DownloadDeadline)
}

func ExampleSanitize() {
	fmt.Println(Sanitize("Ab3 9"))
	// Output: Ab39
}

package workflow

import (
	"context"
	"regexp"
	"testing"

	"github.com/BaSui01/sgaflow/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"
)

var alphanumericOnly = regexp.MustCompile(`^[a-zA-Z0-9]*$`)

func TestProperty_SanitizeIsTotalAndIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.String().Draw(rt, "raw")

		once := Sanitize(raw)
		if !alphanumericOnly.MatchString(once) {
			rt.Fatalf("sanitized %q contains non-alphanumeric characters: %q", raw, once)
		}
		if twice := Sanitize(once); twice != once {
			rt.Fatalf("not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	})
}

func TestProperty_SanitizeKeepsAlphanumericOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clean := rapid.StringMatching(`[a-zA-Z0-9]{0,12}`).Draw(rt, "clean")
		noise := rapid.StringMatching(`[ .,;:!?\-_\t\n]{0,4}`).Draw(rt, "noise")

		mixed := ""
		for _, r := range clean {
			mixed += string(r) + noise
		}
		if got := Sanitize(noise + mixed); got != clean {
			rt.Fatalf("Sanitize(%q) = %q, want %q", noise+mixed, got, clean)
		}
	})
}

// faultPoint injects one failure into a run.
type faultPoint struct {
	name     string
	apply    func(h *harness, s *fakeSession)
	wantCode types.ErrorCode
	opened   bool
}

func faultPoints() []faultPoint {
	p := DefaultPortal()
	return []faultPoint{
		{"open", nil, types.ErrSession, false},
		{"navigate", func(_ *harness, s *fakeSession) { s.failAt = "navigate" }, types.ErrNavigationTimeout, true},
		{"protocol input", func(_ *harness, s *fakeSession) { s.failAt = p.ProtocolInput }, types.ErrElementNotFound, true},
		{"type protocol", func(_ *harness, s *fakeSession) { s.failAt = "type:" + p.ProtocolInput }, types.ErrElementNotFound, true},
		{"search", func(_ *harness, s *fakeSession) { s.failAt = "click:" + p.SearchButton }, types.ErrElementNotFound, true},
		{"result link", func(_ *harness, s *fakeSession) { s.failAt = p.ResultLink }, types.ErrElementNotFound, true},
		{"document button", func(_ *harness, s *fakeSession) { s.failAt = "click:" + p.DocumentButton }, types.ErrElementNotFound, true},
		{"challenge image", func(_ *harness, s *fakeSession) { s.failAt = "attr:" + p.ChallengeImage }, types.ErrElementNotFound, true},
		{"solver", func(h *harness, _ *fakeSession) { h.solver.err = errBoom }, types.ErrInference, true},
		{"answer", func(_ *harness, s *fakeSession) { s.failAt = "type:" + p.AnswerInput }, types.ErrElementNotFound, true},
		{"submit", func(_ *harness, s *fakeSession) { s.failAt = "label" }, types.ErrElementNotFound, true},
		{"download", func(_ *harness, s *fakeSession) { s.download = func(int) []byte { return nil } }, types.ErrDownloadTimeout, true},
		{"interpreter", func(h *harness, _ *fakeSession) { h.interp.err = errBoom }, types.ErrInference, true},
		{"none", func(*harness, *fakeSession) {}, "", true},
	}
}

// For a fault injected at any point, a run yields exactly one result with the
// expected code and closes every session it opened exactly once.
func TestProperty_ExactlyOneResultAndOneClose(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40

	properties := gopter.NewProperties(parameters)
	points := faultPoints()

	properties.Property("every fault point yields one result and one close", prop.ForAll(
		func(idx int) bool {
			fp := points[idx]
			h := newHarness(t, testOptions(), nil)
			if fp.apply == nil {
				h.openErr = errBoom
			} else {
				h.setup = func(s *fakeSession) { fp.apply(h, s) }
			}

			results := 0
			result := h.engine.Run(context.Background(), types.Job{ID: "job-" + fp.name, ProtocolNumber: "17.120.535-2"})
			if result != nil {
				results++
			}
			if results != 1 {
				t.Logf("%s: expected one result", fp.name)
				return false
			}

			wantOpened := int32(0)
			if fp.opened {
				wantOpened = 1
			}
			if h.opened != wantOpened || h.totalCloses() != wantOpened {
				t.Logf("%s: opened %d closed %d", fp.name, h.opened, h.totalCloses())
				return false
			}

			if fp.wantCode == "" {
				return result.Success && result.Error == nil
			}
			if result.Success || result.Error == nil || result.Error.Code != fp.wantCode {
				t.Logf("%s: got %+v", fp.name, result.Error)
				return false
			}
			return result.FinalState == string(StateFailed)
		},
		gen.IntRange(0, len(points)-1),
	))

	properties.TestingRun(t)
}

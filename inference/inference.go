package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/llm/providers/gemini"
	"github.com/BaSui01/sgaflow/types"
	"go.uber.org/zap"
)

// Prompts sent with each call. The wording is part of the contract with the
// model and must not be reformatted.
const (
	ChallengePrompt = "What text or numbers do you see in this CAPTCHA image? respond only the characters you see without spaces."

	DocumentPrompt = "Get the text by the end of the pages, that lives on the left side of the signature field. " +
		"only return th written text correctly formatted, the text we want is not date, it is information about the document, " +
		"when there is no signature field get the text inside the sector 4 - condicionamento, " +
		"do not send any 'EM BRANCO' or 'EM BRANCO EM BRANCO' or 'EM BRANCO EM BRANCO EM BRANCO'."
)

const (
	// DefaultImageMimeType is used when the challenge source carries no type.
	DefaultImageMimeType = "image/jpeg"
	// PDFMimeType is the type of every retrieved document.
	PDFMimeType = "application/pdf"

	kindChallenge = "challenge"
	kindDocument  = "document"
)

// Generator is the inference call both adapters are built on.
// *gemini.Client satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, attachments ...gemini.InlineData) (string, error)
}

var dataURLPrefix = regexp.MustCompile(`^data:(image/[a-z]+);base64,`)

// DecodeDataURL strips an inline image prefix such as
// "data:image/png;base64," and decodes the payload. A source with no prefix
// is decoded as bare base64 and typed as image/jpeg.
func DecodeDataURL(src string) (types.ChallengeImage, error) {
	src = strings.TrimSpace(src)
	mime := DefaultImageMimeType
	if m := dataURLPrefix.FindStringSubmatch(src); m != nil {
		mime = m[1]
		src = src[len(m[0]):]
	}
	if src == "" {
		return types.ChallengeImage{}, errors.New("challenge image source is empty")
	}

	data, err := base64.StdEncoding.DecodeString(src)
	if err != nil {
		return types.ChallengeImage{}, fmt.Errorf("decode challenge image: %w", err)
	}
	return types.ChallengeImage{Data: data, MimeType: mime}, nil
}

// =============================================================================
// Challenge solver
// =============================================================================

// ChallengeSolver reads captcha images through a vision call.
type ChallengeSolver struct {
	gen     Generator
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewChallengeSolver creates a solver. collector may be nil.
func NewChallengeSolver(gen Generator, collector *metrics.Collector, logger *zap.Logger) *ChallengeSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChallengeSolver{
		gen:     gen,
		metrics: collector,
		logger:  logger.With(zap.String("component", "challenge_solver")),
	}
}

// Solve returns the model's reading of the image, unsanitized.
func (s *ChallengeSolver) Solve(ctx context.Context, img types.ChallengeImage) (string, error) {
	if len(img.Data) == 0 {
		return "", types.NewError(types.ErrInference, "challenge image is empty")
	}
	mime := img.MimeType
	if mime == "" {
		mime = DefaultImageMimeType
	}

	text, err := call(ctx, s.gen, s.metrics, kindChallenge, ChallengePrompt, gemini.InlineData{MimeType: mime, Data: img.Data})
	if err != nil {
		s.logger.Warn("challenge inference failed", zap.Error(err))
		return "", err
	}
	s.logger.Debug("challenge solved", zap.Int("chars", len(text)))
	return text, nil
}

// =============================================================================
// Document interpreter
// =============================================================================

// DocumentInterpreter extracts the conditioning text from a PDF.
type DocumentInterpreter struct {
	gen     Generator
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewDocumentInterpreter creates an interpreter. collector may be nil.
func NewDocumentInterpreter(gen Generator, collector *metrics.Collector, logger *zap.Logger) *DocumentInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentInterpreter{
		gen:     gen,
		metrics: collector,
		logger:  logger.With(zap.String("component", "document_interpreter")),
	}
}

// Extract returns the model output verbatim.
func (d *DocumentInterpreter) Extract(ctx context.Context, doc types.Document) (string, error) {
	if len(doc.Data) == 0 {
		return "", types.NewError(types.ErrInference, "document is empty")
	}
	mime := doc.MimeType
	if mime == "" {
		mime = PDFMimeType
	}

	text, err := call(ctx, d.gen, d.metrics, kindDocument, DocumentPrompt, gemini.InlineData{MimeType: mime, Data: doc.Data})
	if err != nil {
		d.logger.Warn("document inference failed", zap.String("document", doc.Name), zap.Error(err))
		return "", err
	}
	d.logger.Debug("document interpreted",
		zap.String("document", doc.Name),
		zap.Int("bytes", len(doc.Data)),
		zap.Int("chars", len(text)))
	return text, nil
}

// call performs one inference request and normalizes its error.
func call(ctx context.Context, gen Generator, collector *metrics.Collector, kind, prompt string, attachment gemini.InlineData) (string, error) {
	start := time.Now()
	text, err := gen.GenerateContent(ctx, prompt, attachment)
	if err != nil {
		collector.RecordInference(kind, "error", time.Since(start))
		return "", asInferenceError(kind, err)
	}
	collector.RecordInference(kind, "success", time.Since(start))
	return text, nil
}

func asInferenceError(kind string, err error) *types.Error {
	if e, ok := types.AsError(err); ok && e.Code == types.ErrInference {
		return e
	}
	return types.NewError(types.ErrInference, kind+" inference failed").WithCause(err)
}

// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package inference adapts the Gemini client into the two narrow capabilities
the workflow consumes.

  - ChallengeSolver turns a captcha image into its best-effort text.
  - DocumentInterpreter turns a retrieved PDF into the text found beside its
    signature field, or in the "4 - condicionamento" sector when there is no
    signature.

Both make exactly one inference call per invocation and never retry. A
failure surfaces as *types.Error with code INFERENCE_ERROR. The answers are
returned verbatim: sanitizing the captcha text is the workflow's job, and
filtering placeholder phrases is part of the interpreter prompt, not code.
*/
package inference

// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package workflow runs one document-retrieval job against the SGA portal.

# Overview

Engine.Run walks a fixed sequence of states:

	init -> navigated -> searched -> result_selected -> challenge_presented
	     -> challenge_solved -> submitted -> downloaded -> extracted -> done

Any step may end the run in failed. Steps are strictly sequential within a
job; separate jobs run concurrently and share nothing but the Engine's
read-only configuration.

# Guarantees

  - Run returns exactly one *types.JobResult and never nil.
  - Every session a run opens is closed exactly once before Run returns,
    including when a step panics.
  - Each run gets its own staging directory, removed when the run ends.
  - A failure carries one code: NAVIGATION_TIMEOUT, ELEMENT_NOT_FOUND,
    DOWNLOAD_TIMEOUT, INFERENCE_ERROR or SESSION_ERROR, plus the state the
    run had reached.

# Challenge handling

The solver's answer is reduced to ASCII letters and digits before typing.
A wrong answer is not reported by the portal; it shows up as a missing
download. With Options.ChallengeRetries > 0, a submission that produced no
download re-reads the challenge and tries again.

# Collaborators

Session, ChallengeSolver, DocumentInterpreter and DownloadCapture are
interfaces. In production they are backed by packages browser and
inference; tests use in-memory fakes.
*/
package workflow

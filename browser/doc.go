// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package browser drives a headless Chrome for one job at a time.

# Overview

Controller.Open launches a dedicated browser process and returns a Session
that the caller owns until Close. Nothing is shared between sessions: each
has its own process, page and download directory.

# Network policy

Every request is paused through the Fetch domain. Requests whose URL
contains "https://" are failed with BlockedByClient; all others continue
unchanged. The portal is plain HTTP and some of its redirects point at
unreachable secure endpoints.

# Primitives

Session exposes Navigate, WaitFor, Type, Click, ReadAttribute and
ClickByLabel. Each takes its own timeout and reports a *types.Error:

  - Navigate: NAVIGATION_TIMEOUT when the network does not go idle.
  - element primitives: ELEMENT_NOT_FOUND when the selector never resolves.
  - any primitive on a closed or crashed session: SESSION_ERROR.

ClickByLabel finds a control by the text of its first span rather than a
fixed selector. The portal's generated ids move between releases, so this
lookup is the first thing to check when the submit step starts failing.

# Downloads

Capture waits out a settle delay, then polls the staging directory for the
first complete file and deletes it once read. Session.DownloadStarted is a
hint only.
*/
package browser

// Copyright (c) SGAFlow Authors.
// Licensed under the MIT License.

/*
Package testutil holds helpers shared by the package tests.

# Capabilities

  - Contexts: TestContext (cancelled at test cleanup) and CancelledContext
  - AssertEventuallyTrue polls until the condition holds or the timeout passes
  - Waiting: WaitFor and WaitForChannel
  - Data: MustJSON and MustParseJSON

# Example

	ctx := testutil.TestContext(t)
	doc, ok := testutil.WaitForChannel(results, 5*time.Second)
*/
package testutil

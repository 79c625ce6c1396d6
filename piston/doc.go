// Package piston is a client for the Piston code execution API.
//
// A Client submits source files to POST /execute and reads the runtime
// catalog from GET /runtimes:
//
//	c := piston.New("https://emkc.org/api/v2/piston")
//	resp, err := c.Execute(ctx, piston.ExecuteRequest{
//		Language:   "python",
//		Version:    "3.x",
//		Files:      []piston.ExecuteFile{{Content: "print(input())"}},
//		Stdin:      piston.Some("Alice"),
//		RunTimeout: piston.Some[int64](5000),
//	})
//
// Optional request fields that are not set are left out of the request body
// so the service applies its own defaults.
//
// Every failure is a *Error whose Kind tells the caller what to do next:
// fix the request (KindValidation, KindContentType), retry later (KindNetwork,
// KindServer), or investigate (KindUnexpected). The client never retries.
package piston

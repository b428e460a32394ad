// Package httpsteps provides pipeline steps that import data over HTTP.
//
// Get downloads a body, ParseJSON or ParseJSONTo decode it, and Expect
// checks the decoded value before the rest of the pipeline uses it:
//
//	steps := []pipeline.Step{
//		{Name: "download", Run: httpsteps.Get(nil, "https://example.com/digits.json")},
//		{Name: "decode", Run: httpsteps.ParseJSONTo[Dataset]()},
//		{Name: "check", Run: httpsteps.Expect(nonEmpty)},
//	}
//
// Server errors (5xx) and transport failures are returned as
// pipeline.Retryable, so wrapping a step in pipeline.Retry parks the run and
// tries again later.
package httpsteps

// Package codereview provides tools that review Python source and the
// built-in "Code Review Mini-Agent" workflow that drives them.
//
// Functions are found with tree-sitter. Each review iteration scores
// complexity, detects issues against fixed thresholds (MaxLines,
// MaxComplexity, MaxParameters), derives a 0-10 quality score, suggests
// improvements and simulates applying them. Applying only adjusts the
// recorded metrics; the code itself is never rewritten.
//
//	reg := registry.New()
//	if err := codereview.RegisterAll(reg); err != nil {
//	    return err
//	}
//	compiled, err := toolgraph.Compile(codereview.Workflow())
package codereview

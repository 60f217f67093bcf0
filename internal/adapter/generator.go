package adapter

import (
	"context"
	"regexp"
	"strings"

	m "coevo.dev/pkg/coevo/internal/model"
)

// Generator is the black-box generative component that proposes mutants and
// test methods for a target. Implementations may return empty slices on
// failure; callers retry a bounded number of times and otherwise treat the
// answer as "no candidates".
type Generator interface {
	// ProposeMutants returns candidate patches for the class, optionally
	// focused on one method.
	ProposeMutants(ctx context.Context, class, code, targetMethod string) ([]m.Patch, error)

	// ProposeTests returns candidate test method bodies for the method
	// signature, given the class source and the currently existing tests.
	ProposeTests(ctx context.Context, class, methodSignature, code, existingTests string) ([]string, error)

	// Repair returns a fixed version of code given a compiler diagnostic or
	// test failure, or an empty string when no fix was produced.
	Repair(ctx context.Context, code, diagnostic string) (string, error)
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)```")

// extractFencedBlocks returns the contents of all fenced code blocks in a
// model response, in order.
func extractFencedBlocks(response string) []string {
	matches := fencedBlockRe.FindAllStringSubmatch(response, -1)

	blocks := make([]string, 0, len(matches))
	for _, match := range matches {
		block := strings.TrimRight(match[1], "\n")
		if block != "" {
			blocks = append(blocks, block+"\n")
		}
	}

	return blocks
}

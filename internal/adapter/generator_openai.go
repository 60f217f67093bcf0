package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"

	m "coevo.dev/pkg/coevo/internal/model"
)

const mutantSystemPrompt = `You are a mutation testing assistant. Given source code,
propose small behavioral mutations. Answer with a single fenced yaml block
containing a list of patches, each with keys: file, start_line, end_line,
original, mutated. The original text must match the source exactly.`

const testSystemPrompt = `You are a unit testing assistant. Given a class and a target
method signature, write new test methods that exercise behavior not covered by
the existing tests. Answer with one fenced code block per test method; each
block must be a complete, self-contained test method.`

const repairSystemPrompt = `You are a code repair assistant. Given code and a compiler
diagnostic or test failure, return the corrected code in a single fenced code
block. Preserve the original intent; change as little as possible.`

// OpenAIGenerator implements Generator against the OpenAI chat-completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator from OPENAI_API_KEY and OPENAI_MODEL.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("OPENAI_MODEL not set, using default", "model", model)
	}

	slog.Info("initializing OpenAI generator", "model", model)

	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}, nil
}

// ProposeMutants asks for patches and parses the fenced yaml answer.
func (g *OpenAIGenerator) ProposeMutants(ctx context.Context, class, code, targetMethod string) ([]m.Patch, error) {
	prompt := fmt.Sprintf("Class %s:\n\n```\n%s\n```\n", class, code)
	if targetMethod != "" {
		prompt += fmt.Sprintf("\nFocus mutations on method %s.\n", targetMethod)
	}

	response, err := g.complete(ctx, mutantSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	blocks := extractFencedBlocks(response)
	if len(blocks) == 0 {
		slog.Warn("generator returned no patch block", "class", class)
		return nil, nil
	}

	var patches []m.Patch
	if err := yaml.Unmarshal([]byte(blocks[0]), &patches); err != nil {
		slog.Warn("generator patch block not parseable", "class", class, "error", err)
		return nil, nil
	}

	return patches, nil
}

// ProposeTests asks for test method bodies, one fenced block each.
func (g *OpenAIGenerator) ProposeTests(ctx context.Context, class, methodSignature, code, existingTests string) ([]string, error) {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "Class %s:\n\n```\n%s\n```\n\nTarget method: %s\n", class, code, methodSignature)

	if existingTests != "" {
		fmt.Fprintf(&prompt, "\nExisting tests:\n\n```\n%s\n```\n", existingTests)
	}

	response, err := g.complete(ctx, testSystemPrompt, prompt.String())
	if err != nil {
		return nil, err
	}

	return extractFencedBlocks(response), nil
}

// Repair asks for a corrected version of code.
func (g *OpenAIGenerator) Repair(ctx context.Context, code, diagnostic string) (string, error) {
	prompt := fmt.Sprintf("Code:\n\n```\n%s\n```\n\nDiagnostic:\n\n```\n%s\n```\n", code, diagnostic)

	response, err := g.complete(ctx, repairSystemPrompt, prompt)
	if err != nil {
		return "", err
	}

	blocks := extractFencedBlocks(response)
	if len(blocks) == 0 {
		slog.Warn("repair returned no code block")
		return "", nil
	}

	return blocks[0], nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

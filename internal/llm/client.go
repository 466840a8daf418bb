package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// PromptSection is one labeled block of a structured prompt (system
// instructions, schema context, the question itself, ...). CompletionClient
// implementations are free to flatten these however their backend expects.
type PromptSection struct {
	Role    string // "system" | "user"
	Content string
}

// GenerationOptions tunes a single Complete call.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}

// CompletionClient is the vendor-agnostic collaborator every pipeline stage
// that talks to an LLM depends on (stage 3 SQLGenerator, stage 6
// ResultsInterpreter). It is intentionally narrower than llms.Model: a
// single blocking call in, a string out.
type CompletionClient interface {
	Complete(ctx context.Context, sections []PromptSection, opts GenerationOptions) (string, error)
}

// langchainClient adapts a langchaingo llms.Model to CompletionClient.
type langchainClient struct {
	model       llms.Model
	profileName string
}

// backoffDelays mirrors the teacher's oneShotGeneration retry schedule.
var backoffDelays = []time.Duration{1 * time.Second, 3 * time.Second}

func (c *langchainClient) Complete(ctx context.Context, sections []PromptSection, opts GenerationOptions) (string, error) {
	prompt := flatten(sections)

	callOpts := []llms.CallOption{}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	var response string
	var err error
	maxRetries := len(backoffDelays)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		response, err = llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...)
		if err == nil {
			return response, nil
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDelays[attempt]):
			}
		}
	}
	return "", fmt.Errorf("llm call failed after %d attempts (profile %q): %w", maxRetries+1, c.profileName, err)
}

// flatten renders sections as a single prompt, system sections first.
// langchaingo's single-prompt Call API doesn't distinguish roles, so we
// fold them with a header the way the teacher's buildPrompt does for its
// own section markers.
func flatten(sections []PromptSection) string {
	var out string
	for _, s := range sections {
		if s.Role != "" {
			out += "## " + s.Role + "\n"
		}
		out += s.Content + "\n\n"
	}
	return out
}

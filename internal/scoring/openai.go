package scoring

import (
	"context"
	"math"

	"github.com/openai/openai-go"

	logx "beepbot/pkg/logx"
)

// openAIScorer drives a fine-tuned completion model through the legacy
// Completions API, which is the one that exposes per-token top logprobs.
type openAIScorer struct {
	client openai.Client
	cfg    Config
	log    logx.Logger
}

func newOpenAI(cfg Config, log logx.Logger) *openAIScorer {
	// openai.NewClient reads OPENAI_API_KEY from the environment.
	return &openAIScorer{client: openai.NewClient(), cfg: cfg, log: log}
}

func (s *openAIScorer) Score(ctx context.Context, prompt string) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(s.cfg.Model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens:   openai.Int(1),
		Logprobs:    openai.Int(int64(s.cfg.TopK)),
		Temperature: openai.Float(0),
		Stop:        openai.CompletionNewParamsStopUnion{OfString: openai.String(Stop)},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Choices) == 0 || len(res.Choices[0].Logprobs.TopLogprobs) == 0 {
		return nil, ErrNoChoices
	}

	top := res.Choices[0].Logprobs.TopLogprobs[0]
	probs := make(map[string]float64, len(top))
	for token, lp := range top {
		probs[token] = math.Exp(lp)
	}
	s.log.Debug("scored prompt", logx.Int("labels", len(probs)), logx.Int("prompt_len", len(prompt)))
	return probs, nil
}

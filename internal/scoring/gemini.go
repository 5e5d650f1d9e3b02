package scoring

import (
	"context"
	"math"

	"google.golang.org/genai"

	logx "beepbot/pkg/logx"
)

// geminiScorer is the alternate backend. Gemini exposes the same
// single-slot top-candidate logprobs through GenerateContent's
// ResponseLogprobs option.
type geminiScorer struct {
	client *genai.Client
	cfg    Config
	log    logx.Logger
}

func newGemini(ctx context.Context, cfg Config, log logx.Logger) (*geminiScorer, error) {
	// ClientConfig without an explicit key reads GEMINI_API_KEY / GOOGLE_API_KEY.
	client, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &geminiScorer{client: client, cfg: cfg, log: log}, nil
}

func (s *geminiScorer) Score(ctx context.Context, prompt string) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.client.Models.GenerateContent(ctx, s.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens:  1,
		StopSequences:    []string{Stop},
		Temperature:      genai.Ptr[float32](0),
		ResponseLogprobs: true,
		Logprobs:         genai.Ptr[int32](int32(s.cfg.TopK)),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Candidates) == 0 {
		return nil, ErrNoChoices
	}
	lr := res.Candidates[0].LogprobsResult
	if lr == nil || len(lr.TopCandidates) == 0 {
		return nil, ErrNoChoices
	}

	slot := lr.TopCandidates[0]
	probs := make(map[string]float64, len(slot.Candidates))
	for _, c := range slot.Candidates {
		if c == nil {
			continue
		}
		probs[c.Token] = math.Exp(float64(c.LogProbability))
	}
	if len(probs) == 0 {
		return nil, ErrNoChoices
	}
	s.log.Debug("scored prompt", logx.Int("labels", len(probs)), logx.Int("prompt_len", len(prompt)))
	return probs, nil
}

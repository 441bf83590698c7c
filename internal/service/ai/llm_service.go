package ai

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/patentops/claimverify/backend/internal/config"
)

// Service generates streamed answers and analysis reports through the
// configured chat model. Chains are compiled lazily per model id because the
// reviewer selects a model per session.
type Service struct {
	cfg config.AIConfig

	mu     sync.Mutex
	chains map[string]compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the generation service. It fails fast when the backend
// credentials are missing so the caller can boot without AI features.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("generation backend not configured")
	}

	svc := &Service{
		cfg:    cfg,
		chains: make(map[string]compose.Runnable[map[string]any, *schema.Message]),
	}

	// Compile the default model's chain eagerly to surface credential
	// problems at boot instead of on the first reviewer turn.
	if _, err := svc.chainFor(ctx, cfg.Model); err != nil {
		return nil, err
	}

	return svc, nil
}

// Models lists the model ids a reviewer may select.
func (s *Service) Models() []string {
	return s.cfg.AvailableModels()
}

// SupportsModel reports whether the given model id is configured.
func (s *Service) SupportsModel(id string) bool {
	for _, m := range s.cfg.AvailableModels() {
		if m == id {
			return true
		}
	}
	return false
}

// StreamAnswer produces the fragment stream for one answer attempt. Each
// call starts a fresh generation; a failed stream is retried by calling
// again.
func (s *Service) StreamAnswer(ctx context.Context, question, disclosure, extra, reviewerContext, modelID string) (*schema.StreamReader[*schema.Message], error) {
	return s.stream(ctx, modelID, map[string]any{
		"system": buildAnswerSystemPrompt(disclosure, extra),
		"query":  buildAnswerUserPrompt(question, reviewerContext),
	})
}

// StreamAnalysis produces the comparative disclosure-vs-claims analysis
// stream.
func (s *Service) StreamAnalysis(ctx context.Context, disclosure, claims, extra, modelID string) (*schema.StreamReader[*schema.Message], error) {
	return s.stream(ctx, modelID, map[string]any{
		"system": "You are a senior patent expert producing structured written analysis.",
		"query":  buildAnalysisPrompt(disclosure, claims, extra),
	})
}

func (s *Service) stream(ctx context.Context, modelID string, input map[string]any) (*schema.StreamReader[*schema.Message], error) {
	chain, err := s.chainFor(ctx, modelID)
	if err != nil {
		return nil, err
	}

	if !s.cfg.StreamResponse {
		// Non-streaming mode still presents a stream to consumers so the
		// session loop has a single code path.
		response, err := chain.Invoke(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to run generation chain: %w", err)
		}
		return schema.StreamReaderFromArray([]*schema.Message{response}), nil
	}

	stream, err := chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream generation chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) chainFor(ctx context.Context, modelID string) (compose.Runnable[map[string]any, *schema.Message], error) {
	if modelID == "" {
		modelID = s.cfg.Model
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if chain, ok := s.chains[modelID]; ok {
		return chain, nil
	}

	chatModel, err := s.cfg.NewChatModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model %q: %w", modelID, err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chain for model %q: %w", modelID, err)
	}

	s.chains[modelID] = runnable
	log.Printf("[ai] compiled generation chain for model=%s", modelID)
	return runnable, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/cortexdesk/config"
)

// NewChatModel builds the provider chat model for the quick or deep tier.
func NewChatModel(ctx context.Context, cfg config.Config, deep bool) (model.ChatModel, error) {
	name := cfg.QuickThinkLLM
	if deep {
		name = cfg.DeepThinkLLM
	}

	switch cfg.LLMProvider {
	case "deepseek":
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("deepseek api key not configured")
		}
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     name,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai api key not configured")
		}
		maxTokens := cfg.MaxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BackendURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     name,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}

// EinoInvoker runs each request through a ChatTemplate -> ChatModel chain.
type EinoInvoker struct {
	quick compose.Runnable[map[string]any, *schema.Message]
	deep  compose.Runnable[map[string]any, *schema.Message]
}

func newTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{context}"),
	)
}

func compileChain(ctx context.Context, cm model.ChatModel, name string) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(newTemplate(), compose.WithNodeName(name+"_template"))
	chain.AppendChatModel(cm, compose.WithNodeName(name+"_model"))
	r, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile %s chain: %w", name, err)
	}
	return r, nil
}

// NewEinoInvoker compiles one chain per model tier. deep may be nil, in
// which case deep requests use the quick model.
func NewEinoInvoker(ctx context.Context, quick, deep model.ChatModel) (*EinoInvoker, error) {
	if quick == nil {
		return nil, fmt.Errorf("quick chat model is required")
	}
	q, err := compileChain(ctx, quick, "quick")
	if err != nil {
		return nil, err
	}
	d := q
	if deep != nil {
		if d, err = compileChain(ctx, deep, "deep"); err != nil {
			return nil, err
		}
	}
	return &EinoInvoker{quick: q, deep: d}, nil
}

// NewEinoInvokerFromConfig builds both model tiers from cfg.
func NewEinoInvokerFromConfig(ctx context.Context, cfg config.Config) (*EinoInvoker, error) {
	quick, err := NewChatModel(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	var deep model.ChatModel
	if cfg.DeepThinkLLM != "" && cfg.DeepThinkLLM != cfg.QuickThinkLLM {
		if deep, err = NewChatModel(ctx, cfg, true); err != nil {
			return nil, err
		}
	}
	return NewEinoInvoker(ctx, quick, deep)
}

func (e *EinoInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	r := e.quick
	if req.Deep {
		r = e.deep
	}
	msg, err := r.Invoke(ctx, map[string]any{
		"system":  req.System,
		"context": RenderSections(req.Sections),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Role, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%s: empty model response", req.Role)
	}
	return strings.TrimSpace(msg.Content), nil
}

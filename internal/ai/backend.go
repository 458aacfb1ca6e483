package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/steveyegge/bughunter/internal/config"
)

// completion is one model reply with its token usage
type completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Truncated    bool // the reply stopped at the output token limit
}

// backend sends a single prompt to a model provider. Retry, rate limiting and
// concurrency limits are applied by Client, not by backends.
type backend interface {
	complete(ctx context.Context, prompt string, maxTokens int) (completion, error)
	name() string
}

func newBackend(cfg config.OracleConfig) (backend, error) {
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case config.ProviderAzureOpenAI:
			return nil, fmt.Errorf("AZURE_OPENAI_API_KEY not set")
		default:
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		return newAnthropicBackend(cfg), nil
	case config.ProviderAzureOpenAI:
		return newAzureBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

type anthropicBackend struct {
	client      *anthropic.Client
	model       string
	temperature float64
}

func newAnthropicBackend(cfg config.OracleConfig) *anthropicBackend {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicBackend{
		client:      &client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

func (b *anthropicBackend) name() string { return config.ProviderAnthropic }

func (b *anthropicBackend) complete(ctx context.Context, prompt string, maxTokens int) (completion, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(b.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return completion{}, err
	}
	return anthropicCompletion(resp), nil
}

func anthropicCompletion(resp *anthropic.Message) completion {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return completion{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Truncated:    resp.StopReason == anthropic.StopReasonMaxTokens,
	}
}

type azureBackend struct {
	client       *azopenai.Client
	deploymentID string
	temperature  float32
}

func newAzureBackend(cfg config.OracleConfig) (*azureBackend, error) {
	keyCredential := azcore.NewKeyCredential(cfg.APIKey)
	client, err := azopenai.NewClientWithKeyCredential(cfg.Endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
	}
	return &azureBackend{
		client:       client,
		deploymentID: cfg.Deployment,
		temperature:  float32(cfg.Temperature),
	}, nil
}

func (b *azureBackend) name() string { return config.ProviderAzureOpenAI }

func (b *azureBackend) complete(ctx context.Context, prompt string, maxTokens int) (completion, error) {
	resp, err := b.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(b.deploymentID),
			MaxTokens:      to.Ptr(int32(maxTokens)),
			Temperature:    to.Ptr(b.temperature),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(prompt),
				},
			},
		},
		nil,
	)
	if err != nil {
		return completion{}, err
	}
	return azureCompletion(resp.ChatCompletions)
}

func azureCompletion(resp azopenai.ChatCompletions) (completion, error) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return completion{}, fmt.Errorf("no completion received from LLM")
	}

	choice := resp.Choices[0]
	c := completion{
		Text:      *choice.Message.Content,
		Truncated: choice.FinishReason != nil && *choice.FinishReason == azopenai.CompletionsFinishReasonTokenLimitReached,
	}
	if resp.Usage != nil {
		if resp.Usage.PromptTokens != nil {
			c.InputTokens = int64(*resp.Usage.PromptTokens)
		}
		if resp.Usage.CompletionTokens != nil {
			c.OutputTokens = int64(*resp.Usage.CompletionTokens)
		}
	}
	return c, nil
}

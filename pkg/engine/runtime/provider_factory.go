package runtime

import (
	"fmt"
	"os"

	"crustly/pkg/logger"
)

// NewLLMFromEnv selects and constructs an LLM client from environment
// variables, in priority order: Qwen, OpenAI, Azure OpenAI, Gemini
// (OpenAI-compatible endpoint), then Anthropic as the final fallback.
// Qwen/OpenAI/Azure/Gemini all speak the OpenAI chat/completions wire
// format, so each is just a differently-configured OpenAILLM; Anthropic
// is the one provider with an incompatible wire format and gets its own
// client.
func NewLLMFromEnv() (LLM, error) {
	if llm, ok := tryQwen(); ok {
		return llm, nil
	}
	if llm, ok := tryOpenAI(); ok {
		return llm, nil
	}
	if llm, ok := tryAzureOpenAI(); ok {
		return llm, nil
	}
	if llm, ok := tryGemini(); ok {
		return llm, nil
	}
	if llm, err := tryAnthropic(); err == nil {
		return llm, nil
	}

	return nil, fmt.Errorf(
		"no LLM provider configured.\n\nSet one of:\n" +
			"  - QWEN_API_KEY (+ optional QWEN_REGION=cn|intl) or QWEN_BASE_URL for local Qwen\n" +
			"  - LLM_API_KEY (+ optional LLM_BASE_URL) for OpenAI-compatible providers\n" +
			"  - AZURE_OPENAI_KEY + AZURE_OPENAI_ENDPOINT for Azure OpenAI\n" +
			"  - GEMINI_API_KEY for Gemini's OpenAI-compatible endpoint\n" +
			"  - ANTHROPIC_API_KEY for Claude",
	)
}

func tryQwen() (LLM, bool) {
	if baseURL := os.Getenv("QWEN_BASE_URL"); baseURL != "" {
		logger.Info("LLM", "Using local Qwen provider", map[string]interface{}{"base_url": baseURL})
		return NewOpenAILLM(baseURL, "local", qwenModel()), true
	}
	apiKey := os.Getenv("QWEN_API_KEY")
	if apiKey == "" {
		return nil, false
	}
	region := os.Getenv("QWEN_REGION")
	baseURL := "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	if region == "cn" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	logger.Info("LLM", "Using DashScope Qwen provider", map[string]interface{}{"region": region})
	return NewOpenAILLM(baseURL, apiKey, qwenModel()), true
}

func qwenModel() string {
	if m := os.Getenv("QWEN_MODEL"); m != "" {
		return m
	}
	return "qwen-plus"
}

func tryOpenAI() (LLM, bool) {
	llm, err := NewOpenAILLMFromEnv()
	if err != nil {
		return nil, false
	}
	logger.Info("LLM", "Using OpenAI-compatible provider", nil)
	return llm, true
}

func tryAzureOpenAI() (LLM, bool) {
	apiKey := os.Getenv("AZURE_OPENAI_KEY")
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if apiKey == "" || endpoint == "" {
		return nil, false
	}
	deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
	if deployment == "" {
		deployment = "gpt-4o-mini"
	}
	apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
	if apiVersion == "" {
		apiVersion = "2024-08-01-preview"
	}
	baseURL := fmt.Sprintf("%s/openai/deployments/%s", trimTrailingSlash(endpoint), deployment)
	logger.Info("LLM", "Using Azure OpenAI provider", map[string]interface{}{"endpoint": endpoint, "deployment": deployment})
	return &azureOpenAILLM{OpenAILLM: *NewOpenAILLM(baseURL, apiKey, deployment), apiVersion: apiVersion}, true
}

func tryGemini() (LLM, bool) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, false
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.0-flash"
	}
	logger.Info("LLM", "Using Gemini OpenAI-compatible provider", nil)
	return NewOpenAILLM("https://generativelanguage.googleapis.com/v1beta/openai", apiKey, model), true
}

func tryAnthropic() (LLM, error) {
	llm, err := NewAnthropicLLMFromEnv()
	if err != nil {
		return nil, err
	}
	logger.Info("LLM", "Using Anthropic provider", nil)
	return llm, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

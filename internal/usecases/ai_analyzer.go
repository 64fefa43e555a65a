package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"bounty-chain.backend/internal/config"
)

const analyzerSystemPrompt = `You are a smart contract security auditor. Analyze the provided Solidity source and report vulnerabilities as a JSON array. Each element: {"vulnerabilityType": string (UPPER_SNAKE_CASE, e.g. REENTRANCY), "severity": one of CRITICAL|HIGH|MEDIUM|LOW|INFO, "filePath": string, "lineNumber": number, "description": string, "confidence": number between 0 and 1, "remediation": string}. Report only exploitable issues. Respond with the JSON array and nothing else.`

// AnthropicAnalyzer runs the optional model-backed analysis pass over the
// registered contract source.
type AnthropicAnalyzer struct {
	client      anthropic.Client
	model       string
	maxFindings int
}

func NewAnthropicAnalyzer(cfg config.AnalysisConfig) *AnthropicAnalyzer {
	return &AnthropicAnalyzer{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.AnthropicKey)),
		model:       cfg.AnthropicModel,
		maxFindings: cfg.MaxFindings,
	}
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, contractSource, contractName string) ([]AIFinding, error) {
	prompt := fmt.Sprintf("Contract %s:\n\n```solidity\n%s\n```", contractName, contractSource)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: analyzerSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	findings, err := parseAIFindings(reply.String())
	if err != nil {
		return nil, err
	}
	if a.maxFindings > 0 && len(findings) > a.maxFindings {
		findings = findings[:a.maxFindings]
	}
	return findings, nil
}

// parseAIFindings extracts the JSON array from the model reply, tolerating
// surrounding prose or markdown fences.
func parseAIFindings(reply string) ([]AIFinding, error) {
	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no findings array in model reply")
	}
	var findings []AIFinding
	if err := json.Unmarshal([]byte(reply[start:end+1]), &findings); err != nil {
		return nil, fmt.Errorf("parse model findings: %w", err)
	}
	out := findings[:0]
	for _, f := range findings {
		if f.VulnerabilityType == "" || f.Confidence <= 0 {
			continue
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		out = append(out, f)
	}
	return out, nil
}

package toolchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bounty-chain.backend/internal/domain/entities"
	"bounty-chain.backend/pkg/logger"
)

// AnalyzerFinding is one normalized static-analysis result.
type AnalyzerFinding struct {
	Type        string            `json:"type"`
	Severity    entities.Severity `json:"severity"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description"`
	Location    string            `json:"location,omitempty"`
}

type slitherOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Results struct {
		Detectors []struct {
			Check       string `json:"check"`
			Impact      string `json:"impact"`
			Confidence  string `json:"confidence"`
			Description string `json:"description"`
			Elements    []struct {
				SourceMapping struct {
					FilenameRelative string `json:"filename_relative"`
				} `json:"source_mapping"`
			} `json:"elements"`
		} `json:"detectors"`
	} `json:"results"`
}

// RunStaticAnalyzer invokes the analyzer over the checkout, trying command
// variants in priority order. The analyzer exits non-zero whenever it finds
// anything, so a failing exit with a success:true JSON payload is a result,
// not an error. A missing binary is ErrToolUnavailable.
func (t *Toolchain) RunStaticAnalyzer(ctx context.Context, dir, contractPath string) ([]AnalyzerFinding, error) {
	variants := [][]string{
		{contractPath, "--json", "-"},
		{".", "--json", "-"},
	}

	var lastErr error
	for _, args := range variants {
		stdout, stderr, err := t.run(ctx, t.cfg.AnalyzerTimeout, dir, t.cfg.SlitherBinary, args...)
		if err != nil && errors.Is(err, ErrToolUnavailable) {
			return nil, err
		}

		out, parseErr := parseSlitherOutput(stdout)
		if parseErr == nil && out.Success {
			return normalizeFindings(out), nil
		}
		if err == nil && parseErr != nil {
			lastErr = parseErr
			continue
		}
		lastErr = fmt.Errorf("analyzer failed: %s", firstLine(stderr, stdout))
		logger.Warn(ctx, "analyzer variant failed",
			zap.Strings("args", args), zap.Error(lastErr))
	}
	return nil, lastErr
}

func parseSlitherOutput(stdout []byte) (*slitherOutput, error) {
	// the analyzer sometimes prints progress noise before the JSON document
	s := string(stdout)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON in analyzer output")
	}
	var out slitherOutput
	if err := json.Unmarshal([]byte(s[start:]), &out); err != nil {
		return nil, fmt.Errorf("parse analyzer output: %w", err)
	}
	return &out, nil
}

func normalizeFindings(out *slitherOutput) []AnalyzerFinding {
	findings := make([]AnalyzerFinding, 0, len(out.Results.Detectors))
	for _, d := range out.Results.Detectors {
		f := AnalyzerFinding{
			Type:        strings.ToUpper(strings.ReplaceAll(d.Check, "-", "_")),
			Severity:    normalizeSeverity(d.Impact),
			Confidence:  normalizeConfidence(d.Confidence),
			Description: d.Description,
		}
		if len(d.Elements) > 0 {
			f.Location = d.Elements[0].SourceMapping.FilenameRelative
		}
		if !keepFinding(f) {
			continue
		}
		findings = append(findings, f)
	}
	return findings
}

// normalizeSeverity shifts the tool's scale up one band: its HIGH findings
// are exploitable, so they land as CRITICAL here.
func normalizeSeverity(impact string) entities.Severity {
	switch strings.ToUpper(impact) {
	case "HIGH":
		return entities.SeverityCritical
	case "MEDIUM":
		return entities.SeverityHigh
	case "LOW":
		return entities.SeverityMedium
	case "INFORMATIONAL":
		return entities.SeverityInfo
	default:
		return entities.SeverityLow
	}
}

func normalizeConfidence(confidence string) float64 {
	switch strings.ToLower(confidence) {
	case "high":
		return 0.9
	case "medium":
		return 0.7
	case "low":
		return 0.5
	default:
		return 0.6
	}
}

// keepFinding drops low-signal results: weak confidence, informational noise
// and anything located in test code.
func keepFinding(f AnalyzerFinding) bool {
	if f.Confidence < 0.4 {
		return false
	}
	if f.Severity == entities.SeverityInfo && f.Confidence < 0.7 {
		return false
	}
	if strings.Contains(strings.ToLower(f.Location), "test") {
		return false
	}
	return true
}

package toolchain

import (
	"encoding/json"
	"strings"
)

type abiEntry struct {
	Type            string `json:"type"`
	StateMutability string `json:"stateMutability"`
}

// RiskScore is a deterministic attack-surface heuristic over the compiled
// artifact. Larger bytecode, more entry points and value-accepting functions
// raise the score; it caps at 100.
func RiskScore(bytecode string, abiJSON json.RawMessage) int {
	score := 0

	codeLen := len(strings.TrimPrefix(bytecode, "0x")) / 2
	switch {
	case codeLen > 20000:
		score += 30
	case codeLen > 10000:
		score += 20
	case codeLen > 4000:
		score += 10
	}

	var entries []abiEntry
	if err := json.Unmarshal(abiJSON, &entries); err == nil {
		functions := 0
		payable := 0
		for _, e := range entries {
			switch e.Type {
			case "function":
				functions++
				if e.StateMutability == "payable" {
					payable++
				}
			case "fallback":
				score += 10
			case "receive":
				score += 10
			}
		}
		switch {
		case functions > 30:
			score += 25
		case functions > 15:
			score += 15
		case functions > 5:
			score += 5
		}
		score += payable * 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

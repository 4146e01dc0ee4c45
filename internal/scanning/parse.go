package scanning

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// extractJSON finds the JSON payload in a model answer that may be wrapped in
// prose or markdown fences. Objects are cut from the first { to the last },
// bare arrays from the first [ to the last ].
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		end := strings.LastIndex(text, "]")
		if end > arrStart {
			return text[arrStart : end+1], true
		}
	}
	if objStart == -1 {
		return "", false
	}
	end := strings.LastIndex(text, "}")
	if end < objStart {
		return "", false
	}
	return text[objStart : end+1], true
}

// parseIdentification turns raw model text into an Identification. It never
// fails: malformed output yields zero candidates and Error set to
// ParseFailure.
func parseIdentification(text string) *Identification {
	payload, ok := extractJSON(text)
	if !ok {
		slog.Warn("No JSON found in model response", "response_length", len(text))
		return &Identification{Error: ParseFailure}
	}

	raws, err := decodeCandidates(payload)
	if err != nil {
		slog.Warn("Failed to decode model response", "error", err)
		return &Identification{Error: ParseFailure}
	}

	candidates := make([]RawCandidate, 0, len(raws))
	for _, raw := range raws {
		c, ok := cleanCandidate(raw)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return &Identification{Candidates: candidates}
}

// decodeCandidates accepts {"cards": [...]}, {"candidates": [...]}, a bare
// array, or a single card object
func decodeCandidates(payload string) ([]RawCandidate, error) {
	if strings.HasPrefix(payload, "[") {
		var list []RawCandidate
		if err := json.Unmarshal([]byte(payload), &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, err
	}
	for _, name := range []string{"cards", "candidates"} {
		if raw, ok := fields[name]; ok {
			var list []RawCandidate
			if err := json.Unmarshal(raw, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
	}

	var single RawCandidate
	if err := json.Unmarshal([]byte(payload), &single); err != nil {
		return nil, err
	}
	return []RawCandidate{single}, nil
}

func cleanCandidate(c RawCandidate) (RawCandidate, bool) {
	c.CardName = strings.TrimSpace(c.CardName)
	if c.CardName == "" {
		return c, false
	}
	c.Game = ParseGame(string(c.Game))
	if c.Game == "" {
		c.Game = GameOther
	}
	c.Set = strings.TrimSpace(c.Set)
	c.Number = strings.TrimSpace(c.Number)
	c.Rarity = strings.TrimSpace(c.Rarity)
	c.Variant = strings.TrimSpace(c.Variant)
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c, true
}

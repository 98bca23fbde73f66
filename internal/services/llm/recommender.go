package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
)

// maxDescriptionLen bounds the candidate payload sent to the model.
const maxDescriptionLen = 200

const recommendSystemPrompt = `You are a book recommendation engine. You are given a reader's preference profile and a list of candidate books. Pick the books from the candidate list that best match the profile.

Respond with ONLY a JSON array of candidate book ids, most relevant first. Do not invent ids, do not add prose or markdown.`

const recommendUserPrompt = `Reader profile:
%s

Candidate books:
%s

Return at most %d book ids from the candidate list as a JSON array.`

// Recommender delegates book selection to an external model. A nil
// client means no API key was configured; calls then short-circuit to
// an empty result without a network attempt.
type Recommender struct {
	client Client
}

func NewRecommender(client Client) *Recommender {
	return &Recommender{client: client}
}

// RecommendBooks asks the model to pick up to limit books from
// candidates. Request and parse failures are logged and yield an empty
// result; the returned ids are always a subset of the candidate ids.
func (r *Recommender) RecommendBooks(ctx context.Context, prefs PreferenceProfile, candidates []Candidate, limit int) ([]string, error) {
	if r.client == nil {
		log.Warn().Msg("LLM recommendations skipped: no API key configured")
		return nil, nil
	}
	if limit <= 0 || len(candidates) == 0 {
		return nil, nil
	}

	payload := make([]Candidate, len(candidates))
	for i, c := range candidates {
		if len(c.Description) > maxDescriptionLen {
			c.Description = c.Description[:maxDescriptionLen]
		}
		payload[i] = c
	}

	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize preference profile")
		return nil, nil
	}
	candidatesJSON, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize candidate books")
		return nil, nil
	}

	userPrompt := fmt.Sprintf(recommendUserPrompt, prefsJSON, candidatesJSON, limit)

	raw, err := r.client.Complete(ctx, recommendSystemPrompt, userPrompt)
	if err != nil {
		log.Error().Err(err).Msg("LLM recommendation request failed")
		return nil, nil
	}

	ids := parseIDArray(raw)
	if len(ids) == 0 {
		log.Warn().Str("response", truncate(raw, 120)).Msg("LLM response contained no parsable id array")
		return nil, nil
	}

	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID] = struct{}{}
	}

	// Hallucinated or repeated ids are dropped silently.
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// parseIDArray extracts the first well-formed JSON array from raw and
// coerces its elements to strings.
func parseIDArray(raw string) []string {
	arr := extractFirstArray(raw)
	if arr == "" {
		return nil
	}

	var elems []interface{}
	if err := json.Unmarshal([]byte(arr), &elems); err != nil {
		return nil
	}

	var ids []string
	for _, e := range elems {
		switch v := e.(type) {
		case string:
			if v != "" {
				ids = append(ids, v)
			}
		case float64:
			ids = append(ids, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return ids
}

// extractFirstArray returns the first balanced, valid bracketed array
// substring of raw, or "" when none exists.
func extractFirstArray(raw string) string {
	for start := 0; start < len(raw); start++ {
		if raw[start] != '[' {
			continue
		}

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(raw); i++ {
			c := raw[i]
			if escaped {
				escaped = false
				continue
			}
			switch {
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '[':
				depth++
			case c == ']':
				depth--
				if depth == 0 {
					candidate := raw[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					i = len(raw) // malformed; try the next opening bracket
				}
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package suggester ranks agents by keyword overlap between task text and
// agent capabilities.
package suggester

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"agentroute/internal/domain"
)

// minPrefixLen is the shortest capability that may match as a word prefix
// ("deploy" matches "deployment"); shorter ones must match a whole word.
const minPrefixLen = 4

// AgentLister is the slice of the agent directory the suggester reads.
type AgentLister interface {
	List(ctx context.Context) ([]domain.Agent, error)
}

// KeywordSuggester implements domain.CapabilitySuggester over the agents
// currently registered in a directory.
type KeywordSuggester struct {
	agents AgentLister
}

// NewKeywordSuggester creates a suggester reading agents from lister.
func NewKeywordSuggester(lister AgentLister) *KeywordSuggester {
	return &KeywordSuggester{agents: lister}
}

// Suggest returns up to maxResults agents with at least one matching
// capability, best first. Confidence is 100*(1-0.5^matches).
func (s *KeywordSuggester) Suggest(ctx context.Context, text string, maxResults int) ([]domain.AgentSuggestion, error) {
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, domain.WrapOp("suggest", err)
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	phrase := " " + strings.Join(tokens, " ") + " "

	var out []domain.AgentSuggestion
	for _, a := range agents {
		var matched []string
		for _, c := range a.Capabilities {
			if matches(tokens, phrase, c) {
				matched = append(matched, c)
			}
		}
		if len(matched) == 0 {
			continue
		}
		out = append(out, domain.AgentSuggestion{
			Agent:           a.Name,
			Confidence:      100 * (1 - math.Pow(0.5, float64(len(matched)))),
			MatchedKeywords: matched,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Agent < out[j].Agent
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func matches(tokens []string, phrase, capability string) bool {
	capTokens := tokenize(capability)
	switch len(capTokens) {
	case 0:
		return false
	case 1:
		c := capTokens[0]
		for _, t := range tokens {
			if t == c || (len(c) >= minPrefixLen && strings.HasPrefix(t, c)) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(phrase, " "+strings.Join(capTokens, " ")+" ")
	}
}

// tokenize lowercases s and splits it on anything but letters, digits and '/'.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/'
	})
}

var _ domain.CapabilitySuggester = (*KeywordSuggester)(nil)

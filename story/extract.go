package story

import "regexp"

// Entities are the narrative names found in a line of text.
type Entities struct {
	NPCs      []string `json:"npcs"`
	Conflicts []string `json:"conflicts"`
}

// Extractor pulls NPC and conflict names out of narrative text.
type Extractor interface {
	ExtractNarrativeEntities(text string) Entities
}

var (
	npcPattern      = regexp.MustCompile(`(?i:met|encountered|aided|helped|fought)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	conflictPattern = regexp.MustCompile(`(?i:defeat|destroy|weaken|against|battle|fight)\w*\s+(?:the\s+)?([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
)

// RegexExtractor matches capitalized phrases after a few trigger verbs.
// It is a heuristic: misses and odd matches are expected.
type RegexExtractor struct{}

func (RegexExtractor) ExtractNarrativeEntities(text string) Entities {
	return Entities{
		NPCs:      submatches(npcPattern, text),
		Conflicts: submatches(conflictPattern, text),
	}
}

func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

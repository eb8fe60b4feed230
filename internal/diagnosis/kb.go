package diagnosis

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KnowledgeMatch is a past-incident note relevant to a diagnosis query.
type KnowledgeMatch struct {
	Source    string
	Content   string
	Relevance float64
}

// KnowledgeBase holds operator notes about past incidents, loaded from
// a directory of markdown files.
type KnowledgeBase struct {
	entries []kbEntry
}

type kbEntry struct {
	source  string
	content string
	words   map[string]struct{}
}

// LoadKnowledgeBase reads every .md file under dir. A missing or empty
// directory yields an empty knowledge base, not an error.
func LoadKnowledgeBase(dir string) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	if dir == "" {
		return kb, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := string(data)
		kb.entries = append(kb.entries, kbEntry{
			source:  filepath.Base(path),
			content: content,
			words:   tokenize(content),
		})
	}
	return kb, nil
}

// Match scores entries against the query by token overlap and returns
// the top three, best first.
func (kb *KnowledgeBase) Match(query string) []KnowledgeMatch {
	queryWords := tokenize(query)
	if len(queryWords) == 0 {
		return nil
	}

	var matches []KnowledgeMatch
	for _, entry := range kb.entries {
		overlap := 0
		for word := range queryWords {
			if _, ok := entry.words[word]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, KnowledgeMatch{
			Source:    entry.source,
			Content:   entry.content,
			Relevance: float64(overlap) / float64(len(queryWords)),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return matches
}

func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,:;()[]{}\"'`#*-")
		if len(word) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}

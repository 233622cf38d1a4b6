// ABOUTME: Mention detection for multi-agent conversations
// ABOUTME: Scans message text for agent names and returns responder IDs in ascending order

// Package mention decides which agents a message addresses by name.
package mention

import (
	"regexp"
	"sort"
	"strings"
)

// Participant is the (id, display name) pair the detector matches against.
type Participant struct {
	ID   int64
	Name string
}

// Detect returns the IDs of participants whose display name occurs in text
// as a case-insensitive whole-word match. The result is ascending by ID and
// duplicate-free, regardless of the order participants are supplied in.
//
// Matching is literal: special characters in a name are not pattern syntax,
// so an agent named "C++Bot" is found in "ping C++Bot now". Word-boundary
// semantics prevent substring hits ("Grok" does not match inside
// "groking"), and multi-word names must appear as one contiguous phrase.
//
// Blank text returns nil without scanning.
func Detect(text string, participants []Participant) []int64 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, p := range participants {
		if p.Name == "" || seen[p.ID] {
			continue
		}
		if nameMentioned(text, p.Name) {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// nameMentioned reports whether name occurs in text delimited by
// non-word characters (or the start/end of the text). regexp.QuoteMeta
// keeps names containing regex metacharacters literal. \b is not usable
// here: it misbehaves when a name starts or ends with a symbol.
func nameMentioned(text, name string) bool {
	pattern := `(?i)(^|[^0-9A-Za-z_])` + regexp.QuoteMeta(name) + `([^0-9A-Za-z_]|$)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Package clip holds the harvested clip model and the pure helpers that derive
// publish metadata (title, tags, description) and staged media names from it.
package clip

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTitleRunes bounds the derived publish title. YouTube allows 100; we keep headroom.
const MaxTitleRunes = 90

// DefaultTags are prepended to every clip's own hashtags.
var DefaultTags = []string{"shorts", "tiktok", "viral", "trending"}

// Creator is one source account to harvest. Count overrides the per-run limit when > 0.
type Creator struct {
	Handle string
	Count  int
}

// NormalizeHandle lowercases a handle and strips a leading '@' and surrounding space.
func NormalizeHandle(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}

// Creators builds creator tasks from raw handles, dropping blanks and duplicates.
func Creators(handles []string) []Creator {
	seen := make(map[string]struct{}, len(handles))
	out := make([]Creator, 0, len(handles))
	for _, h := range handles {
		n := NormalizeHandle(h)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, Creator{Handle: n})
	}
	return out
}

// Item is a single harvested clip. Items are immutable after the fetch stage;
// whether an item was published lives in the ledger, not here.
type Item struct {
	ID          string
	Creator     string
	Description string
}

// Title returns the publish title: the description up to the first hashtag,
// trimmed and truncated, or a fallback naming the creator.
func (it Item) Title() string {
	t := it.Description
	if i := strings.Index(t, "#"); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)
	if utf8.RuneCountInString(t) > MaxTitleRunes {
		t = strings.TrimSpace(string([]rune(t)[:MaxTitleRunes]))
	}
	if t == "" {
		return fmt.Sprintf("Check out this clip from %s", it.Creator)
	}
	return t
}

// Hashtags extracts the creator's hashtags from the description, without the
// leading '#' and with trailing punctuation removed.
func (it Item) Hashtags() []string {
	var tags []string
	for _, word := range strings.Fields(it.Description) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		tag := strings.Trim(word, "#,.-_")
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Tags merges defaults with the clip's hashtags, defaults first, dropping
// duplicates and keeping first-seen order.
func (it Item) Tags(defaults []string) []string {
	return MergeTags(defaults, it.Hashtags())
}

// MergeTags concatenates tag lists, keeping the first occurrence of each tag.
func MergeTags(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range lists {
		for _, t := range l {
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// PublishDescription is the visible description: original text, a credit line
// and the merged hashtags.
func (it Item) PublishDescription(tags []string) string {
	hashtags := make([]string, 0, len(tags))
	for _, t := range tags {
		hashtags = append(hashtags, "#"+t)
	}
	return fmt.Sprintf("%s\n\nCredit to @%s on TikTok.\n\n%s", it.Description, it.Creator, strings.Join(hashtags, " "))
}

// MediaName is the deterministic staged file name for a creator's clip.
func MediaName(creator, id string) string {
	return fmt.Sprintf("@%s_video_%s.mp4", creator, id)
}

// MediaPath joins the staged media name onto dir.
func (it Item) MediaPath(dir string) string {
	return filepath.Join(dir, MediaName(it.Creator, it.ID))
}

// Package reaction stores and exchanges emoji reactions.
//
// A contact has at most one reaction per message. A reaction is a set of
// emojis; a newer reaction from the same contact replaces the older one and an
// empty reaction retracts it.
package reaction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/chatmail/internal/store"
)

// maxEmojiLen drops tokens that cannot be a single emoji.
const maxEmojiLen = 30

// Reaction is a canonical, space separated, sorted and deduplicated emoji set.
type Reaction struct {
	s string
}

// Parse canonicalizes a raw reaction string.
func Parse(raw string) Reaction {
	fields := strings.FieldsFunc(raw, isASCIISpace)
	emojis := fields[:0]
	for _, f := range fields {
		if len(f) < maxEmojiLen {
			emojis = append(emojis, f)
		}
	}
	return fromEmojis(emojis)
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func fromEmojis(emojis []string) Reaction {
	sort.Strings(emojis)
	out := emojis[:0]
	for i, e := range emojis {
		if i > 0 && e == emojis[i-1] {
			continue
		}
		out = append(out, e)
	}
	return Reaction{s: strings.Join(out, " ")}
}

// IsEmpty reports whether the reaction retracts all emojis.
func (r Reaction) IsEmpty() bool { return r.s == "" }

// Emojis returns the individual emojis in canonical order.
func (r Reaction) Emojis() []string { return strings.Fields(r.s) }

// String returns the canonical form.
func (r Reaction) String() string { return r.s }

// Add returns the union of both reactions.
func (r Reaction) Add(other Reaction) Reaction {
	return fromEmojis(append(r.Emojis(), other.Emojis()...))
}

// Reactions aggregates the reactions of all contacts to one message.
type Reactions struct {
	byContact map[store.ContactID]Reaction
}

// Contacts returns the contacts that reacted, in id order.
func (rs *Reactions) Contacts() []store.ContactID {
	ids := make([]store.ContactID, 0, len(rs.byContact))
	for id := range rs.byContact {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the reaction of a contact, empty if there is none.
func (rs *Reactions) Get(id store.ContactID) Reaction { return rs.byContact[id] }

func (rs *Reactions) IsEmpty() bool { return len(rs.byContact) == 0 }

// EmojiFrequencies counts how many contacts used each emoji.
func (rs *Reactions) EmojiFrequencies() map[string]int {
	freq := make(map[string]int)
	for _, r := range rs.byContact {
		for _, e := range r.Emojis() {
			freq[e]++
		}
	}
	return freq
}

// EmojiCount is one entry of the reaction summary.
type EmojiCount struct {
	Emoji string
	Count int
}

// EmojiSortedByFrequency returns emojis with the most used first.
func (rs *Reactions) EmojiSortedByFrequency() []EmojiCount {
	freq := rs.EmojiFrequencies()
	out := make([]EmojiCount, 0, len(freq))
	for e, n := range freq {
		out = append(out, EmojiCount{Emoji: e, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}

// String renders a histogram such as "👍2 😀1", ordered by emoji.
func (rs *Reactions) String() string {
	freq := rs.EmojiFrequencies()
	emojis := make([]string, 0, len(freq))
	for e := range freq {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)
	parts := make([]string, len(emojis))
	for i, e := range emojis {
		parts[i] = fmt.Sprintf("%s%d", e, freq[e])
	}
	return strings.Join(parts, " ")
}

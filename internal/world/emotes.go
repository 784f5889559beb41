package world

import "github.com/worldgate-project/worldgate/internal/chat"

// EmoteTable resolves text-emote ids to their templates. The table is
// immutable after construction.
type EmoteTable struct {
	entries map[uint32]chat.EmoteEntry
}

// A useful subset of the client's text-emote ids. Unknown ids are
// silently ignored by the handler.
var defaultEmotes = []chat.EmoteEntry{
	{ID: 1, Text: "agrees"},
	{ID: 2, Text: "is amazed"},
	{ID: 3, Text: "is angry"},
	{ID: 4, Text: "apologizes"},
	{ID: 5, Text: "applauds"},
	{ID: 14, Text: "blushes"},
	{ID: 15, Text: "bows"},
	{ID: 18, Text: "cheers"},
	{ID: 21, Text: "claps"},
	{ID: 25, Text: "cries"},
	{ID: 34, Text: "dances"},
	{ID: 54, Text: "flexes"},
	{ID: 70, Text: "greets"},
	{ID: 77, Text: "hugs"},
	{ID: 97, Text: "laughs"},
	{ID: 113, Text: "points"},
	{ID: 133, Text: "salutes"},
	{ID: 163, Text: "thanks"},
	{ID: 183, Text: "waves"},
	{ID: 185, Text: "welcomes"},
	{ID: 186, Text: "whistles"},
}

// NewEmoteTable seeds the default emote set.
func NewEmoteTable() *EmoteTable {
	t := &EmoteTable{entries: make(map[uint32]chat.EmoteEntry, len(defaultEmotes))}
	for _, e := range defaultEmotes {
		t.entries[e.ID] = e
	}
	return t
}

// Get implements chat.Emotes.
func (t *EmoteTable) Get(id uint32) (chat.EmoteEntry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

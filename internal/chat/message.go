// Package chat implements the chat dispatch and policy engine: message
// validation, language substitution, per-type authorization, routing to
// the broadcast collaborators, and audit logging.
package chat

import (
	"fmt"

	"github.com/worldgate-project/worldgate/internal/protocol"
)

// Message is a parsed CMSG_MESSAGECHAT request.
type Message struct {
	Type     protocol.ChatType
	Language protocol.Language

	// Target is the recipient name for whispers.
	Target string

	// Channel is the channel name for channel messages.
	Channel string

	Text string
}

// ParseMessage decodes a CMSG_MESSAGECHAT payload. Whispers carry the
// target name and channel messages the channel name ahead of the text.
func ParseMessage(p *protocol.Packet) (*Message, error) {
	r := p.Reader()

	rawType, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("chat type: %w", err)
	}
	rawLang, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("chat language: %w", err)
	}

	m := &Message{
		Type:     protocol.ChatType(rawType),
		Language: protocol.Language(rawLang),
	}
	if m.Type >= protocol.MaxChatType {
		return nil, fmt.Errorf("chat type %d out of range", rawType)
	}

	switch m.Type {
	case protocol.ChatWhisper:
		if m.Target, err = r.String(); err != nil {
			return nil, fmt.Errorf("whisper target: %w", err)
		}
	case protocol.ChatChannel:
		if m.Channel, err = r.String(); err != nil {
			return nil, fmt.Errorf("channel name: %w", err)
		}
	}

	if m.Text, err = r.String(); err != nil {
		return nil, fmt.Errorf("chat text: %w", err)
	}
	return m, nil
}

// chatTag flags shown next to the sender's name in the client UI.
const (
	tagNone uint8 = 0
	tagAFK  uint8 = 1
	tagDND  uint8 = 2
	tagGM   uint8 = 4
)

// BuildMessage constructs an SMSG_MESSAGECHAT for delivery. The channel
// name is only present for channel messages.
func BuildMessage(chatType protocol.ChatType, lang protocol.Language, senderGUID uint64, channel, text string, tag uint8) *protocol.Packet {
	b := protocol.NewBuilder(protocol.SMSGMessageChat).
		Uint8(uint8(chatType)).
		Uint32(uint32(lang))
	if chatType == protocol.ChatChannel {
		b.String(channel)
	}
	b.Uint64(senderGUID).
		Uint32(uint32(len(text) + 1)).
		String(text).
		Uint8(tag)
	return b.Packet()
}

// senderTag derives the UI flag byte from the sender's state.
func senderTag(gmMode, afk, dnd bool) uint8 {
	switch {
	case gmMode:
		return tagGM
	case dnd:
		return tagDND
	case afk:
		return tagAFK
	default:
		return tagNone
	}
}

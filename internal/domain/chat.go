package domain

// Author identifies the sender of an inbound chat message. Roles holds role
// names, not platform ids.
type Author struct {
	ID    string
	Name  string
	Roles []string
}

// InboundMessage is the platform-agnostic shape of a chat message handed to
// the dispatch router.
type InboundMessage struct {
	ID          string
	ChannelID   string
	ChannelName string
	GuildID     string
	Author      Author
	Content     string
}

// MessageRef points at a message already delivered to the platform.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// EmbedField is one titled line of an Embed.
type EmbedField struct {
	Name  string
	Value string
}

// Embed is a titled card of fields, used for the help, usage and settings
// reports.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
}

// Thread is a conversation side-channel as listed by the platform.
type Thread struct {
	ID      string
	GuildID string
	Name    string
}

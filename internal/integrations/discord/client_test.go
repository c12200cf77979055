package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/usecase"
)

type fakeSession struct {
	sent        []*discordgo.MessageSend
	sentTo      []string
	sendErr     error
	edits       [][3]string
	threadStart *discordgo.ThreadStart
	threadFrom  [2]string
	channelEdit *discordgo.ChannelEdit
	editedID    string
	deleted     []string
	deleteErr   error
	channels    map[string]*discordgo.Channel
	roles       []*discordgo.Role
	roleCalls   int
	active      map[string][]*discordgo.Channel
	listErr     error
	responded   *discordgo.InteractionResponse
	respDeleted bool
	nextID      int
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, data)
	f.sentTo = append(f.sentTo, channelID)
	f.nextID++
	return &discordgo.Message{ID: "m" + string(rune('0'+f.nextID)), ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEdit(channelID, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, [3]string{channelID, messageID, content})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeSession) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.threadStart = data
	f.threadFrom = [2]string{channelID, messageID}
	return &discordgo.Channel{ID: "thread-9", Name: data.Name}, nil
}

func (f *fakeSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.editedID = channelID
	f.channelEdit = data
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return ch, nil
}

func (f *fakeSession) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.roleCalls++
	return f.roles, nil
}

func (f *fakeSession) GuildThreadsActive(guildID string, _ ...discordgo.RequestOption) (*discordgo.ThreadsList, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &discordgo.ThreadsList{Threads: f.active[guildID]}, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responded = resp
	return nil
}

func (f *fakeSession) InteractionResponseDelete(_ *discordgo.Interaction, _ ...discordgo.RequestOption) error {
	f.respDeleted = true
	return nil
}

func newTestState(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	require.NoError(t, st.GuildAdd(&discordgo.Guild{
		ID:    "g1",
		Roles: []*discordgo.Role{{ID: "r1", Name: "gpt-optin"}, {ID: "r2", Name: "member"}},
	}))
	require.NoError(t, st.GuildAdd(&discordgo.Guild{ID: "g2"}))
	require.NoError(t, st.ChannelAdd(&discordgo.Channel{ID: "c1", GuildID: "g1", Name: "gpt3", Type: discordgo.ChannelTypeGuildText}))
	return st
}

func newTestClient(t *testing.T, f *fakeSession) *Client {
	t.Helper()
	c, err := newClient(f, newTestState(t), nil)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	_, err = newClient(nil, nil, nil)
	require.Error(t, err)
}

func TestReply_ReferencesOriginal(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)

	got, err := c.Reply(context.Background(), domain.MessageRef{ChannelID: "c1", MessageID: "in-1"}, "hello")
	require.NoError(t, err)
	require.Equal(t, domain.MessageRef{ChannelID: "c1", MessageID: "m1"}, got)
	require.Equal(t, "hello", f.sent[0].Content)
	require.Equal(t, "in-1", f.sent[0].Reference.MessageID)
	require.Empty(t, f.sent[0].Components)
}

func TestReplyWithRetry_AttachesButton(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)

	_, err := c.ReplyWithRetry(context.Background(), domain.MessageRef{ChannelID: "c1", MessageID: "in-1"}, "hello", "gpt3bot:redo:abc")
	require.NoError(t, err)
	require.Len(t, f.sent[0].Components, 1)
	row, ok := f.sent[0].Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	btn, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	require.Equal(t, "gpt3bot:redo:abc", btn.CustomID)
	require.Equal(t, discordgo.PrimaryButton, btn.Style)
	require.Equal(t, "🔄", btn.Emoji.Name)
}

func TestSend_WrapsErrors(t *testing.T) {
	f := &fakeSession{sendErr: errors.New("HTTP 403 Forbidden")}
	c := newTestClient(t, f)

	_, err := c.Send(context.Background(), "c1", "hello")
	require.ErrorContains(t, err, "discord: send to c1")
	require.ErrorContains(t, err, "403")
}

func TestEmbeds(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)
	e := domain.Embed{Title: "GPT3Bot Usage", Color: 0x00FF00, Fields: []domain.EmbedField{{Name: "Total price", Value: "$0.03"}}}

	require.NoError(t, c.SendEmbed(context.Background(), "c1", e))
	require.NoError(t, c.ReplyEmbed(context.Background(), domain.MessageRef{ChannelID: "c1", MessageID: "in-1"}, e))

	require.Nil(t, f.sent[0].Reference)
	require.Equal(t, "GPT3Bot Usage", f.sent[0].Embeds[0].Title)
	require.Equal(t, 0x00FF00, f.sent[0].Embeds[0].Color)
	require.Equal(t, "$0.03", f.sent[0].Embeds[0].Fields[0].Value)
	require.Equal(t, "in-1", f.sent[1].Reference.MessageID)
}

func TestEdit(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)

	require.NoError(t, c.Edit(context.Background(), domain.MessageRef{ChannelID: "c1", MessageID: "m7"}, "new text"))
	require.Equal(t, [][3]string{{"c1", "m7", "new text"}}, f.edits)
}

func TestThreads(t *testing.T) {
	f := &fakeSession{active: map[string][]*discordgo.Channel{
		"g1": {{ID: "t1", Name: "alice's conversation with GPT3"}},
		"g2": {{ID: "t2", Name: "Closed-GPT"}},
	}}
	c := newTestClient(t, f)

	id, err := c.StartThread(context.Background(), domain.MessageRef{ChannelID: "c1", MessageID: "m1"}, "alice's conversation with GPT3")
	require.NoError(t, err)
	require.Equal(t, "thread-9", id)
	require.Equal(t, [2]string{"c1", "m1"}, f.threadFrom)
	require.Equal(t, 60, f.threadStart.AutoArchiveDuration)

	require.NoError(t, c.CloseThread(context.Background(), "thread-9", "Closed-GPT"))
	require.Equal(t, "thread-9", f.editedID)
	require.Equal(t, "Closed-GPT", f.channelEdit.Name)
	require.True(t, *f.channelEdit.Locked)

	threads, err := c.ListThreads(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.Thread{
		{ID: "t1", GuildID: "g1", Name: "alice's conversation with GPT3"},
		{ID: "t2", GuildID: "g2", Name: "Closed-GPT"},
	}, threads)

	require.NoError(t, c.DeleteThread(context.Background(), "t1"))
	require.Equal(t, []string{"t1"}, f.deleted)

	f.listErr = errors.New("missing access")
	_, err = c.ListThreads(context.Background())
	require.ErrorContains(t, err, "missing access")
}

func TestInteractionResponses(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)
	i := &discordgo.Interaction{ID: "i1", Token: "tok"}

	require.NoError(t, c.RespondEphemeral(context.Background(), i, "Redoing your original request..."))
	require.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, f.responded.Type)
	require.Equal(t, "Redoing your original request...", f.responded.Data.Content)
	require.Equal(t, discordgo.MessageFlagsEphemeral, f.responded.Data.Flags)

	require.NoError(t, c.DeleteResponse(context.Background(), i))
	require.True(t, f.respDeleted)
}

func TestRoleNames(t *testing.T) {
	f := &fakeSession{roles: []*discordgo.Role{{ID: "r9", Name: "Admin"}}}
	c := newTestClient(t, f)

	require.Equal(t, []string{"gpt-optin", "member"}, c.RoleNames("g1", []string{"r1", "r2"}))
	require.Zero(t, f.roleCalls)

	require.Equal(t, []string{"gpt-optin", "Admin"}, c.RoleNames("g1", []string{"r1", "r9", "r404"}))
	require.Equal(t, 1, f.roleCalls)

	require.Nil(t, c.RoleNames("g1", nil))
}

func TestChannelName(t *testing.T) {
	f := &fakeSession{channels: map[string]*discordgo.Channel{"c2": {ID: "c2", Name: "general-bot"}}}
	c := newTestClient(t, f)

	require.Equal(t, "gpt3", c.ChannelName("c1"))
	require.Equal(t, "general-bot", c.ChannelName("c2"))
	require.Equal(t, "", c.ChannelName("c404"))
}

func TestSender_SkipsBlankMessages(t *testing.T) {
	f := &fakeSession{}
	c := newTestClient(t, f)
	s := c.Sender()

	require.NoError(t, s.Send(context.Background(), "debug-1", "  "))
	require.Empty(t, f.sent)
	require.NoError(t, s.Send(context.Background(), "debug-1", "transcript"))
	require.Equal(t, []string{"debug-1"}, f.sentTo)
}

var _ usecase.Platform = (*Client)(nil)

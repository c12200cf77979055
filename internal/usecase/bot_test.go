package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/queue"
	"gpt3bot/internal/settings"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	conversations map[string]domain.Conversation
	redo          map[string]domain.RedoEntry
	cooldowns     map[string]time.Time
	touches       int
	deletes       int
	getErr        error
	putErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]domain.Conversation),
		redo:          make(map[string]domain.RedoEntry),
		cooldowns:     make(map[string]time.Time),
	}
}

func (f *fakeStore) GetConversation(_ context.Context, userID string) (domain.Conversation, bool, error) {
	if f.getErr != nil {
		return domain.Conversation{}, false, f.getErr
	}
	c, ok := f.conversations[userID]
	return c, ok, nil
}

func (f *fakeStore) PutConversation(_ context.Context, conv domain.Conversation) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.conversations[conv.UserID] = conv
	return nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, userID string) error {
	f.deletes++
	delete(f.conversations, userID)
	return nil
}

func (f *fakeStore) GetRedo(_ context.Context, userID string) (domain.RedoEntry, bool, error) {
	e, ok := f.redo[userID]
	return e, ok, nil
}

func (f *fakeStore) PutRedo(_ context.Context, entry domain.RedoEntry) error {
	f.redo[entry.UserID] = entry
	return nil
}

func (f *fakeStore) TouchCooldown(_ context.Context, userID string, now time.Time) (time.Time, bool, error) {
	f.touches++
	prev, ok := f.cooldowns[userID]
	f.cooldowns[userID] = now
	return prev, ok, nil
}

type completionResult struct {
	text  string
	err   error
	panic bool
}

type fakeCompleter struct {
	results []completionResult
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (domain.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	if len(f.results) == 0 {
		return domain.Completion{}, errors.New("no completion configured")
	}
	idx := len(f.prompts) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	if r.panic {
		panic("completer exploded")
	}
	if r.err != nil {
		return domain.Completion{}, r.err
	}
	return domain.Completion{
		ID:      fmt.Sprintf("cmpl-%d", idx),
		Model:   settings.ModelDavinci,
		Choices: []domain.CompletionChoice{{Text: r.text, FinishReason: "stop"}},
		Usage:   domain.CompletionUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

type call struct {
	Op      string
	Channel string
	Target  string
	Content string
}

type fakePlatform struct {
	calls      []call
	embeds     []domain.Embed
	nextID     int
	threads    []domain.Thread
	failReply  error
	failClose  error
	failDelete map[string]error
}

func (p *fakePlatform) newID() string {
	p.nextID++
	return fmt.Sprintf("out-%d", p.nextID)
}

func (p *fakePlatform) Reply(_ context.Context, to domain.MessageRef, content string) (domain.MessageRef, error) {
	if p.failReply != nil {
		return domain.MessageRef{}, p.failReply
	}
	p.calls = append(p.calls, call{Op: "reply", Channel: to.ChannelID, Target: to.MessageID, Content: content})
	return domain.MessageRef{ChannelID: to.ChannelID, MessageID: p.newID()}, nil
}

func (p *fakePlatform) ReplyWithRetry(_ context.Context, to domain.MessageRef, content, customID string) (domain.MessageRef, error) {
	p.calls = append(p.calls, call{Op: "retry", Channel: to.ChannelID, Target: customID, Content: content})
	return domain.MessageRef{ChannelID: to.ChannelID, MessageID: p.newID()}, nil
}

func (p *fakePlatform) Send(_ context.Context, channelID, content string) (domain.MessageRef, error) {
	p.calls = append(p.calls, call{Op: "send", Channel: channelID, Content: content})
	return domain.MessageRef{ChannelID: channelID, MessageID: p.newID()}, nil
}

func (p *fakePlatform) Edit(_ context.Context, ref domain.MessageRef, content string) error {
	p.calls = append(p.calls, call{Op: "edit", Channel: ref.ChannelID, Target: ref.MessageID, Content: content})
	return nil
}

func (p *fakePlatform) SendEmbed(_ context.Context, channelID string, e domain.Embed) error {
	p.calls = append(p.calls, call{Op: "embed", Channel: channelID, Content: e.Title})
	p.embeds = append(p.embeds, e)
	return nil
}

func (p *fakePlatform) ReplyEmbed(_ context.Context, to domain.MessageRef, e domain.Embed) error {
	p.calls = append(p.calls, call{Op: "reply_embed", Channel: to.ChannelID, Target: to.MessageID, Content: e.Title})
	p.embeds = append(p.embeds, e)
	return nil
}

func (p *fakePlatform) StartThread(_ context.Context, from domain.MessageRef, name string) (string, error) {
	p.calls = append(p.calls, call{Op: "thread", Channel: from.ChannelID, Target: from.MessageID, Content: name})
	return "thread-1", nil
}

func (p *fakePlatform) CloseThread(_ context.Context, threadID, name string) error {
	p.calls = append(p.calls, call{Op: "close", Channel: threadID, Content: name})
	return p.failClose
}

func (p *fakePlatform) ListThreads(_ context.Context) ([]domain.Thread, error) {
	return p.threads, nil
}

func (p *fakePlatform) DeleteThread(_ context.Context, threadID string) error {
	p.calls = append(p.calls, call{Op: "delete", Channel: threadID})
	return p.failDelete[threadID]
}

// contents returns the content of every recorded call of op, in order.
func (p *fakePlatform) contents(op string) []string {
	var out []string
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c.Content)
		}
	}
	return out
}

type fakeUsage struct {
	usage domain.Usage
	err   error
}

func (f *fakeUsage) Total(_ context.Context) (domain.Usage, error) {
	return f.usage, f.err
}

type fakeQueue struct {
	messages []queue.Message
	failN    int
}

func (f *fakeQueue) Put(_ context.Context, m queue.Message) error {
	if f.failN > 0 {
		f.failN--
		return errors.New("queue full")
	}
	f.messages = append(f.messages, m)
	return nil
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	t        *testing.T
	bot      *Bot
	store    *fakeStore
	platform *fakePlatform
	llm      *fakeCompleter
	settings *settings.Settings
	usage    *fakeUsage
	debugQ   *fakeQueue
	logs     *bytes.Buffer
	clock    time.Time
	msgSeq   int
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		store:    newFakeStore(),
		platform: &fakePlatform{},
		llm:      &fakeCompleter{},
		settings: settings.New(settings.Defaults()),
		usage:    &fakeUsage{},
		debugQ:   &fakeQueue{},
		logs:     &bytes.Buffer{},
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := Options{
		DebugChannelID: "debug-1",
		Logger:         slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Now:            func() time.Time { return h.clock },
	}
	if mutate != nil {
		mutate(&opts)
	}
	bot, err := NewBot(h.store, h.llm, h.platform, h.settings, h.usage, h.debugQ, opts)
	require.NoError(t, err)
	bot.SetSelfID("bot-1")
	h.bot = bot
	return h
}

var (
	alice = domain.Author{ID: "u1", Name: "alice", Roles: []string{"gpt-optin"}}
	admin = domain.Author{ID: "u2", Name: "root", Roles: []string{"member", "Admin"}}
)

func (h *harness) message(author domain.Author, channelID, channelName, content string) domain.InboundMessage {
	h.msgSeq++
	return domain.InboundMessage{
		ID:          fmt.Sprintf("in-%d", h.msgSeq),
		ChannelID:   channelID,
		ChannelName: channelName,
		GuildID:     "guild-1",
		Author:      author,
		Content:     content,
	}
}

// send delivers a message after the cooldown has passed.
func (h *harness) send(author domain.Author, channelID, channelName, content string) domain.InboundMessage {
	h.t.Helper()
	h.clock = h.clock.Add(5 * time.Second)
	return h.sendNow(author, channelID, channelName, content)
}

// sendNow delivers a message without moving the clock.
func (h *harness) sendNow(author domain.Author, channelID, channelName, content string) domain.InboundMessage {
	h.t.Helper()
	msg := h.message(author, channelID, channelName, content)
	require.NoError(h.t, h.bot.HandleMessage(context.Background(), msg))
	return msg
}

func (h *harness) completions(texts ...string) {
	for _, text := range texts {
		h.llm.results = append(h.llm.results, completionResult{text: text})
	}
}

// ---------------------------------------------------------------------------
// constructor and helpers
// ---------------------------------------------------------------------------

func TestNewBot_ValidatesDependencies(t *testing.T) {
	s := settings.New(settings.Defaults())
	store, llm, platform, usage, q := newFakeStore(), &fakeCompleter{}, &fakePlatform{}, &fakeUsage{}, &fakeQueue{}

	_, err := NewBot(nil, llm, platform, s, usage, q, Options{})
	require.Error(t, err)
	_, err = NewBot(store, nil, platform, s, usage, q, Options{})
	require.Error(t, err)
	_, err = NewBot(store, llm, nil, s, usage, q, Options{})
	require.Error(t, err)
	_, err = NewBot(store, llm, platform, nil, usage, q, Options{})
	require.Error(t, err)
	_, err = NewBot(store, llm, platform, s, nil, q, Options{})
	require.Error(t, err)
	_, err = NewBot(store, llm, platform, s, usage, nil, Options{})
	require.Error(t, err)
	_, err = NewBot(store, llm, platform, s, usage, q, Options{CooldownPolicy: "ignore"})
	require.Error(t, err)

	b, err := NewBot(store, llm, platform, s, usage, q, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultPersona, b.persona)
	require.Equal(t, "!g", b.prefix)
	require.Equal(t, 1900, b.cutoff)
	require.Equal(t, time.Second, b.cooldown)
	require.Equal(t, CooldownReject, b.cooldownPolicy)
}

func TestParseCooldownPolicy(t *testing.T) {
	p, err := ParseCooldownPolicy("")
	require.NoError(t, err)
	require.Equal(t, CooldownReject, p)

	p, err = ParseCooldownPolicy(" WARN ")
	require.NoError(t, err)
	require.Equal(t, CooldownWarn, p)

	_, err = ParseCooldownPolicy("skip")
	require.Error(t, err)
}

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	path := filepath.Join(dir, "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are a helpful gopher."), 0o600))
	require.Equal(t, "You are a helpful gopher.", LoadPersona(path, logger))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	require.Equal(t, DefaultPersona, LoadPersona(empty, logger))

	require.Equal(t, DefaultPersona, LoadPersona(filepath.Join(dir, "missing.txt"), logger))
	require.Equal(t, DefaultPersona, LoadPersona("", nil))
}

func TestJobKey(t *testing.T) {
	require.Equal(t, "u1", Job{Kind: JobMessage, Message: domain.InboundMessage{Author: alice}}.Key())
	require.Equal(t, "u9", Job{Kind: JobRedo, UserID: "u9"}.Key())
}

func TestHandleJob_LogsUnreportedErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.store.getErr = errors.New("dynamodb down")

	h.bot.HandleJob(context.Background(), Job{Kind: JobMessage, Message: h.message(alice, "c1", "general", "!g hello there")})
	require.Empty(t, h.platform.calls)
	require.Contains(t, h.logs.String(), "job_failed")
	require.Contains(t, h.logs.String(), string(ErrorInternal))
	require.Contains(t, h.logs.String(), "dynamodb down")
}

func TestHandleJob_RecoversFromPanics(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.results = []completionResult{{panic: true}}

	require.NotPanics(t, func() {
		h.bot.HandleJob(context.Background(), Job{Kind: JobMessage, Message: h.message(alice, "c1", "general", "!g tell me something interesting")})
	})
	require.Equal(t, []string{genericFailureText}, h.platform.contents("reply"))
	require.True(t, strings.Contains(strings.Join(h.platform.contents("send"), "\n"), "completer exploded"))
}

package steering

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ralph-run/ralph/internal/diag"
	"github.com/ralph-run/ralph/internal/journal"
	"github.com/ralph-run/ralph/internal/memory"
	"github.com/ralph-run/ralph/internal/tasks"
)

// chatRateLimit caps how often an inbound chat message is allowed to
// turn into a journal append or an outbound reply, so a chatty remote
// chat (or someone mashing a command) can't flood the journal or the
// Telegram API (spec.md §4.7; SPEC_FULL.md's x/time/rate wiring note).
const chatRateLimit = 1 // messages per second, burst 3

// ChatConfig configures the chat ingress transport, grounded in
// original_source/crates/ralph-telegram/src/service.rs's
// TelegramService (bot token resolution, masked logging, timeout).
type ChatConfig struct {
	RepoRoot    string
	LoopID      string
	BotToken    string // falls back to RALPH_TELEGRAM_BOT_TOKEN if empty
	Journal     *journal.Journal
	Tasks       *tasks.Ledger
	Memory      *memory.Store
	PollTimeout time.Duration // long-poll wait, default 30s
}

// Bot is the Telegram long-poll chat transport (spec.md §4.7 "Chat
// ingress"). Plain text from the allowed chat becomes a human.guidance
// event; slash-commands map to marker files or read-only queries.
type Bot struct {
	cfg       ChatConfig
	token     string
	statePath string
	client    *http.Client
	offset    int64
	limiter   *rate.Limiter
}

func NewBot(cfg ChatConfig) (*Bot, error) {
	token := cfg.BotToken
	if token == "" {
		token = os.Getenv("RALPH_TELEGRAM_BOT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("steering: no telegram bot token configured")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Bot{
		cfg:       cfg,
		token:     token,
		statePath: filepath.Join(cfg.RepoRoot, ".ralph", "telegram-state.json"),
		client:    &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
		limiter:   rate.NewLimiter(rate.Limit(chatRateLimit), chatRateLimit*3),
	}, nil
}

// tokenMasked returns the bot token with its middle redacted, matching
// the source's bot_token_masked.
func (b *Bot) tokenMasked() string {
	if len(b.token) <= 8 {
		return "****"
	}
	return b.token[:4] + "..." + b.token[len(b.token)-4:]
}

func (b *Bot) apiURL(method string) string {
	return fmt.Sprintf("https://api.telegram.org/bot%s/%s", b.token, method)
}

// Run polls getUpdates until ctx is canceled, dispatching each message
// from the allowed chat. The first chat to message the bot becomes the
// allowed chat if none is configured yet.
func (b *Bot) Run(ctx context.Context) error {
	diag.Info("steering: chat ingress started (bot %s)", b.tokenMasked())
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		updates, err := b.getUpdates(ctx)
		if err != nil {
			diag.Warn("steering: getUpdates failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, u := range updates {
			b.offset = u.UpdateID + 1
			if u.Message == nil {
				continue
			}
			if err := b.limiter.Wait(ctx); err != nil {
				continue // ctx canceled while waiting for a token
			}
			if err := b.handleMessage(ctx, *u.Message); err != nil {
				diag.Warn("steering: failed to handle chat message: %v", err)
			}
		}
	}
}

type tgUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *tgMessage  `json:"message"`
}

type tgMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

type tgGetUpdatesResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

func (b *Bot) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprintf("%d", b.offset))
	q.Set("timeout", fmt.Sprintf("%d", int(b.cfg.PollTimeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out tgGetUpdatesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getUpdates returned not-ok")
	}
	return out.Result, nil
}

func (b *Bot) handleMessage(ctx context.Context, msg tgMessage) error {
	state, err := loadChatState(b.statePath)
	if err != nil {
		return err
	}
	if state.ChatID == 0 {
		state.ChatID = msg.Chat.ID
		if err := saveChatState(b.statePath, state); err != nil {
			return err
		}
	} else if state.ChatID != msg.Chat.ID {
		return nil // not the allowed chat
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		return b.handleCommand(ctx, text, state)
	}

	// Plain text becomes human.guidance (spec.md §4.7).
	if _, ok := state.PendingQuestions[b.cfg.LoopID]; ok {
		return b.appendEvent("human.response", text, state)
	}
	return b.appendEvent("human.guidance", text, state)
}

func (b *Bot) handleCommand(ctx context.Context, text string, state chatState) error {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/stop":
		return b.writeMarker("stop-requested")
	case "/restart":
		return b.writeMarker("restart-requested")
	case "/status":
		return b.reply(ctx, fmt.Sprintf("loop %s is running", b.cfg.LoopID))
	case "/tasks":
		return b.replyTasks(ctx)
	case "/memories":
		return b.replyMemories(ctx)
	case "/tail":
		return b.replyTail(ctx)
	default:
		return b.reply(ctx, "unknown command: "+fields[0])
	}
}

func (b *Bot) writeMarker(name string) error {
	path := filepath.Join(b.cfg.RepoRoot, ".ralph", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

func (b *Bot) replyTasks(ctx context.Context) error {
	if b.cfg.Tasks == nil {
		return b.reply(ctx, "no task ledger configured")
	}
	open, err := b.cfg.Tasks.Open()
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return b.reply(ctx, "no open tasks")
	}
	var sb strings.Builder
	for _, t := range open {
		fmt.Fprintf(&sb, "- [%s] %s\n", t.Status, t.Title)
	}
	return b.reply(ctx, sb.String())
}

func (b *Bot) replyMemories(ctx context.Context) error {
	if b.cfg.Memory == nil {
		return b.reply(ctx, "no memory store configured")
	}
	entries, err := b.cfg.Memory.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return b.reply(ctx, "no memories")
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", e.ID, e.Type, e.Body)
	}
	return b.reply(ctx, sb.String())
}

func (b *Bot) replyTail(ctx context.Context) error {
	if b.cfg.Journal == nil {
		return b.reply(ctx, "no journal configured")
	}
	events, err := b.cfg.Journal.ReadAll()
	if err != nil {
		return err
	}
	n := 10
	if len(events) < n {
		n = len(events)
	}
	var sb strings.Builder
	for _, e := range events[len(events)-n:] {
		fmt.Fprintf(&sb, "%s %s\n", e.Ts.Format(time.RFC3339), e.Topic)
	}
	return b.reply(ctx, sb.String())
}

// appendEvent appends a journal event and, for human.response, clears
// the pending-question bookkeeping so the next plain message is treated
// as guidance rather than another response.
func (b *Bot) appendEvent(topic, payload string, state chatState) error {
	ev, err := journal.NewEvent(topic, payload)
	if err != nil {
		return err
	}
	if b.cfg.Journal == nil {
		return fmt.Errorf("steering: no journal configured for chat ingress")
	}
	if err := b.cfg.Journal.Append(ev); err != nil {
		return err
	}
	if topic == "human.response" {
		delete(state.PendingQuestions, b.cfg.LoopID)
		return saveChatState(b.statePath, state)
	}
	return nil
}

// SendQuestion surfaces an ask.human question to the allowed chat and
// records it as pending (spec.md §4.7 "Ask-human").
func (b *Bot) SendQuestion(ctx context.Context, payload string) error {
	state, err := loadChatState(b.statePath)
	if err != nil {
		return err
	}
	if state.ChatID == 0 {
		diag.Warn("steering: no chat id configured yet, ask.human question logged only: %s", payload)
		return nil
	}
	messageID, err := b.send(ctx, state.ChatID, payload)
	if err != nil {
		return err
	}
	state.PendingQuestions[b.cfg.LoopID] = messageID
	return saveChatState(b.statePath, state)
}

func (b *Bot) reply(ctx context.Context, text string) error {
	state, err := loadChatState(b.statePath)
	if err != nil {
		return err
	}
	if state.ChatID == 0 {
		return nil
	}
	_, err = b.send(ctx, state.ChatID, text)
	return err
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) (int64, error) {
	q := url.Values{}
	q.Set("chat_id", fmt.Sprintf("%d", chatID))
	q.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL("sendMessage")+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode sendMessage response: %w", err)
	}
	if !out.OK {
		return 0, fmt.Errorf("telegram sendMessage returned not-ok")
	}
	return out.Result.MessageID, nil
}

package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"
)

// Source is recorded on jobs enqueued from Telegram.
const Source = "telegram"

// Router maps chat text to a job. *router.Router satisfies it.
type Router interface {
	Route(message string) (jobs.Spec, error)
}

type Queue interface {
	Add(spec jobs.Spec) (jobs.Job, error)
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
	Pause()
	Resume()
	Paused() bool
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	router  Router
	queue   Queue
	events  *natsbus.Client
	sub     *nats.Subscription
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	mu    sync.Mutex
	chats map[string]int64 // job id -> chat awaiting its result
}

func NewBot(cfg config.TelegramConfig, r Router, q Queue, events *natsbus.Client) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:    bot,
		router: r,
		queue:  q,
		events: events,
		cfg:    cfg,
		chats:  make(map[string]int64),
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.events != nil {
		sub, err := b.events.Subscribe(natsbus.TopicEventsJobs, func(msg *nats.Msg) {
			var ev natsbus.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return
			}
			b.handleEvent(ctx, ev)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe job events: %w", err)
		}
		b.sub = sub
	}

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		if msg.Caption == "" {
			return
		}
		text = msg.Caption
	}

	reply := b.reply(text, strconv.FormatInt(userID, 10), chatID)
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

// reply handles queue controls directly and turns everything else into a
// job whose result is sent back to chatID when it finishes.
func (b *Bot) reply(text, userID string, chatID int64) string {
	if out, ok := b.control(text); ok {
		return out
	}

	spec, err := b.router.Route(text)
	if err != nil {
		return "Error: " + err.Error()
	}
	spec.Actor = "telegram:" + userID
	spec.Role = b.cfg.Role
	spec.Source = Source

	job, err := b.queue.Add(spec)
	if err != nil {
		return "Error: " + err.Error()
	}

	b.mu.Lock()
	b.chats[job.ID] = chatID
	b.mu.Unlock()

	slog.Info("job enqueued from telegram", "id", job.ID, "type", job.Type, "user", userID)
	return fmt.Sprintf("Queued %s (%s)", jobLabel(job), shortID(job.ID))
}

func (b *Bot) control(text string) (string, bool) {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch cmd {
	case "/start", "/help":
		return helpText, true
	case "/jobs":
		return formatJobs(b.queue.List(), b.queue.Paused()), true
	case "/pause":
		b.queue.Pause()
		return "Queue paused.", true
	case "/resume":
		b.queue.Resume()
		return "Queue resumed.", true
	}
	return "", false
}

func (b *Bot) handleEvent(ctx context.Context, ev natsbus.Event) {
	if ev.Type != "job_completed" && ev.Type != "job_failed" {
		return
	}

	b.mu.Lock()
	chatID, ok := b.chats[ev.JobID]
	delete(b.chats, ev.JobID)
	b.mu.Unlock()
	if !ok {
		return
	}

	job, found := b.queue.Get(ev.JobID)
	if !found {
		return
	}
	if err := b.SendMessage(ctx, chatID, formatResult(job)); err != nil {
		slog.Error("failed to send job result", "chat", chatID, "job", job.ID, "error", err)
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

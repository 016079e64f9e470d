package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"chatgpt-coordinator/internal/adapter/memory"
	"chatgpt-coordinator/internal/config"
	"chatgpt-coordinator/internal/usecase/chat"
)

const chunkSize = 2048

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// CoordinatorFactory builds a fresh coordinator for a new chat.
type CoordinatorFactory func() *chat.Coordinator

type Bot struct {
	api            *tgbotapi.BotAPI
	out            sender
	cfg            config.Config
	newCoordinator CoordinatorFactory
	sessions       *memory.Sessions[*session]
	logger         *zap.Logger

	// notices tracks replies sent outside any session.
	notices sync.WaitGroup
}

// session is one chat's coordinator and the outbox its replies go through.
type session struct {
	*chat.Coordinator
	out *outbox
}

func (s *session) Close() {
	s.Coordinator.Close()
	s.out.close()
}

func NewBot(cfg config.Config, newCoordinator CoordinatorFactory, logger *zap.Logger) (*Bot, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	return newBot(api, api, cfg, newCoordinator, logger), nil
}

func newBot(api *tgbotapi.BotAPI, out sender, cfg config.Config, newCoordinator CoordinatorFactory, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		api:            api,
		out:            out,
		cfg:            cfg,
		newCoordinator: newCoordinator,
		logger:         logger,
	}
	b.sessions = memory.NewSessions[*session](b.newSession, logger)
	return b
}

func (b *Bot) Sessions() *memory.Sessions[*session] {
	return b.sessions
}

// Run reads updates until ctx is done. Messages are handled in arrival order
// on this goroutine; nothing on this path waits for Telegram or OpenAI.
func (b *Bot) Run(ctx context.Context) error {
	defer b.notices.Wait()
	defer b.sessions.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("telegram bot started", zap.String("username", b.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram updates channel closed")
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handleMessage(update.Message)
		}
	}
}

// newSession wires a chat's coordinator to the chat. The greeting is queued
// right away and goes out once the session is started.
func (b *Bot) newSession(chatID int64) *session {
	out := newOutbox()
	coord := b.newCoordinator()
	coord.Subscribe(func(text string) {
		out.push(func() { b.deliver(chatID, text) })
	})
	coord.SubscribeErrors(func(err error) {
		var terr *chat.TransportError
		if errors.As(err, &terr) {
			b.logger.Warn("openai request failed", zap.Int64("chat_id", chatID), zap.Error(err))
			out.push(func() { b.sendText(chatID, 0, "failed to reach openai, try again later") })
		}
	})
	coord.Initialize(b.cfg.Greeting)
	return &session{Coordinator: coord, out: out}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !isAllowedUser(msg.From.ID, b.cfg) {
		b.notify(chatID, msg.MessageID, "access denied")
		return
	}

	text := BuildUserInput(msg)
	if strings.TrimSpace(text) == "" {
		b.notify(chatID, msg.MessageID, "i need some content to work with")
		return
	}

	sess, created := b.sessions.Get(chatID)
	if created {
		sess.out.start()
	}
	sess.out.push(func() { b.sendChatAction(chatID) })
	sess.Submit(text)
}

// notify answers a message that never reaches a coordinator.
func (b *Bot) notify(chatID int64, replyTo int, text string) {
	b.notices.Add(1)
	go func() {
		defer b.notices.Done()
		b.sendText(chatID, replyTo, text)
	}()
}

func (b *Bot) deliver(chatID int64, text string) {
	if shouldSendAsFile(text) {
		if err := b.sendAsFile(chatID, text); err != nil {
			b.logger.Warn("failed to send file", zap.Int64("chat_id", chatID), zap.Error(err))
			b.sendText(chatID, 0, text)
		}
		return
	}
	b.sendText(chatID, 0, text)
}

func (b *Bot) sendText(chatID int64, replyTo int, text string) {
	for idx, chunk := range splitText(text, chunkSize) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if idx == 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := b.out.Send(msg); err != nil {
			b.logger.Warn("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

func (b *Bot) sendChatAction(chatID int64) {
	if _, err := b.out.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("failed to send chat action", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) sendAsFile(chatID int64, content string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "response.md",
		Bytes: []byte(content),
	})
	_, err := b.out.Send(doc)
	return err
}

func shouldSendAsFile(text string) bool {
	return len([]rune(text)) > chunkSize
}

func isAllowedUser(userID int64, cfg config.Config) bool {
	for _, id := range cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}

	if len(cfg.AllowedUserIDs) == 0 {
		return true
	}

	for _, id := range cfg.AllowedUserIDs {
		if id == userID {
			return true
		}
	}

	return false
}

// BuildUserInput flattens a message into the text submitted as a user turn.
func BuildUserInput(msg *tgbotapi.Message) string {
	parts := make([]string, 0, 6)
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, "Caption: "+msg.Caption)
	}
	parts = append(parts, DescribeAttachments(msg)...)

	return strings.Join(parts, "\n")
}

func splitText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/chunkSize+1)
	for start := 0; start < len(runes); start += chunkSize {
		end := min(start+chunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}

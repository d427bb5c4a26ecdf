package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/legalsathi/internal/chat"
	"github.com/xaenox/legalsathi/internal/extract"
	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

const (
	// Telegram rejects longer messages
	maxMessageRunes = 4096
	maxDocumentSize = 10 << 20
	historyItems    = 5
)

// PDFFiles opens generated PDFs by name
type PDFFiles interface {
	Open(name string) (*os.File, error)
}

type Bot struct {
	api    *tgbotapi.BotAPI
	chat   *chat.Service
	pdfs   PDFFiles
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	active map[int64]string // chat id -> conversation id
}

func New(token string, svc *chat.Service, pdfs PDFFiles, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{
		api:    api,
		chat:   svc,
		pdfs:   pdfs,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
		active: make(map[int64]string),
	}, nil
}

// Start polls for updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleUpdate(ctx, update.Message)
	}

	return ctx.Err()
}

// handleUpdate answers one message. A panic is logged and the bot keeps polling.
func (b *Bot) handleUpdate(ctx context.Context, message *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while handling update",
				zap.Any("panic", r),
				zap.Int("message_id", message.MessageID),
				zap.Stack("stack"))
		}
	}()
	b.handleMessage(ctx, message)
}

func userID(from *tgbotapi.User) string {
	return fmt.Sprintf("telegram:%d", from.ID)
}

func (b *Bot) activeConversation(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[chatID]
}

func (b *Bot) setActiveConversation(chatID int64, convID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if convID == "" {
		delete(b.active, chatID)
		return
	}
	b.active[chatID] = convID
}

// inConversation runs ask against the chat's remembered conversation and
// remembers the conversation it answered in. If the remembered one was deleted
// elsewhere, ask runs once more in a fresh conversation.
func (b *Bot) inConversation(chatID int64, ask func(convID string) (string, error)) error {
	convID, err := ask(b.activeConversation(chatID))
	if errors.Is(err, chat.ErrNotFound) {
		b.setActiveConversation(chatID, "")
		convID, err = ask("")
	}
	if err != nil {
		return err
	}
	b.setActiveConversation(chatID, convID)
	return nil
}

func (b *Bot) ask(ctx context.Context, chatID int64, uid, content string) (*chat.Reply, error) {
	var reply *chat.Reply
	err := b.inConversation(chatID, func(convID string) (string, error) {
		var err error
		reply, err = b.chat.Send(ctx, chat.Request{UserID: uid, Message: content, ConversationID: convID})
		if err != nil {
			return "", err
		}
		return reply.ConversationID, nil
	})
	return reply, err
}

func (b *Bot) analyse(ctx context.Context, chatID int64, uid string, req chat.UploadRequest) (*chat.UploadReply, error) {
	var reply *chat.UploadReply
	err := b.inConversation(chatID, func(convID string) (string, error) {
		req.UserID, req.ConversationID = uid, convID
		var err error
		reply, err = b.chat.Upload(ctx, req)
		if err != nil {
			return "", err
		}
		return reply.ConversationID, nil
	})
	return reply, err
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	if message.Document != nil {
		b.handleDocument(ctx, message)
		return
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "Send me a legal question or a document (.pdf, .docx, .txt).")
		return
	}

	b.sendTyping(message.Chat.ID)
	reply, err := b.ask(ctx, message.Chat.ID, userID(message.From), content)
	if err != nil {
		b.logger.Error("Failed to answer message",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, userFacingError(err))
		return
	}

	b.sendReply(message.Chat.ID, message.MessageID, reply.Reply, reply.PDFURL)
}

func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	doc := message.Document
	if doc.FileSize > maxDocumentSize {
		b.sendErrorMessage(message.Chat.ID, "That file is too large. Please send documents under 10 MB.")
		return
	}

	b.sendTyping(message.Chat.ID)
	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		b.logger.Error("Failed to download document",
			zap.Error(err),
			zap.String("file_id", doc.FileID),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't download your file. Please try again.")
		return
	}

	reply, err := b.analyse(ctx, message.Chat.ID, userID(message.From), chat.UploadRequest{
		FileName: doc.FileName,
		Task:     taskFromCaption(message.Caption),
		Data:     data,
	})
	if err != nil {
		b.logger.Error("Failed to analyse document",
			zap.Error(err),
			zap.String("file", doc.FileName),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, userFacingError(err))
		return
	}

	b.sendReply(message.Chat.ID, message.MessageID, reply.Reply, reply.PDFURL)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
}

// taskFromCaption lets "/explain"-style captions pick the analysis; anything else summarizes
func taskFromCaption(caption string) models.Task {
	word := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(caption), "/"))
	if i := strings.IndexAny(word, " \n"); i >= 0 {
		word = word[:i]
	}
	switch models.Task(word) {
	case models.TaskExplain, models.TaskDraft, models.TaskReview:
		return models.Task(word)
	default:
		return models.TaskSummarize
	}
}

func userFacingError(err error) string {
	switch {
	case errors.Is(err, chat.ErrUpstream):
		return "The AI service is busy right now. Please try again in a moment."
	case errors.Is(err, extract.ErrUnsupported):
		return "I can read .pdf, .docx, .txt and .md files only."
	case errors.Is(err, chat.ErrInvalidRequest):
		return "I couldn't read any text in that. Please check and try again."
	default:
		return "Sorry, something went wrong. Please try again."
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to LegalSathi! ⚖️
I'm an AI legal assistant for Indian law.

Ask me a question, ask for a draft (rent agreement, NDA, notice reply), or send a document and I'll summarize it.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/new - Start a new conversation
/history - Show your recent questions

You can send:
- Questions and drafting requests
- Documents (.pdf, .docx, .txt, .md)

Add a caption to a document to choose the task: summarize, explain, draft or review.
Every answer also comes as a PDF.

LegalSathi is not a substitute for a lawyer.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	conv, err := b.chat.NewConversation(ctx, userID(message.From))
	if err != nil {
		b.logger.Error("Failed to create conversation",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a new conversation. Please try again.")
		return
	}
	b.setActiveConversation(message.Chat.ID, conv.ID)
	b.sendMessage(message.Chat.ID, "Started a new conversation. What can I help you with?")
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	entries, err := b.chat.History(ctx, userID(message.From), historyItems)
	if err != nil {
		b.logger.Error("Failed to get user history",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your history.")
		return
	}

	if len(entries) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any questions yet.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatHistory(entries))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func formatHistory(entries []models.HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("*Your recent questions:*\n\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("*%s*\n", escapeMarkdown(e.Timestamp.Format("02 Jan 2006 15:04"))))
		sb.WriteString(fmt.Sprintf("_%s_\n\n", escapeMarkdown(truncate(e.Message, 120))))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// escapeMarkdown escapes the characters MarkdownV2 reserves
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// splitMessage cuts text into parts of at most limit runes, preferring line breaks
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		if i := strings.LastIndex(string(runes[:limit]), "\n"); i > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:i]) + 1
		}
		parts = append(parts, string(runes[:cut]))
		text = string(runes[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func (b *Bot) sendReply(chatID int64, replyToID int, text, pdfURL string) {
	for i, part := range splitMessage(text, maxMessageRunes) {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 {
			msg.ReplyToMessageID = replyToID
		}
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error("Failed to send reply",
				zap.Error(err),
				zap.Int64("chat_id", chatID))
			return
		}
	}

	if pdfURL == "" || b.pdfs == nil {
		return
	}
	name := strings.TrimPrefix(pdfURL, chat.DownloadPrefix)
	f, err := b.pdfs.Open(name)
	if err != nil {
		b.logger.Warn("Generated PDF not available",
			zap.Error(err),
			zap.String("pdf_url", pdfURL))
		return
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: f})
	doc.Caption = "LegalSathi PDF"
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Error("Failed to send PDF",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

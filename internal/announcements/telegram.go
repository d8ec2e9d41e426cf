package announcements

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bot-dashboard/internal/database"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the channel reader
type TelegramConfig struct {
	BotToken  string
	ChannelID int64
	// MaxPosts bounds a single getUpdates call
	MaxPosts int
}

// TelegramSource reads channel posts the bot receives as a channel admin
type TelegramSource struct {
	api       *tgbotapi.BotAPI
	channelID int64
	limit     int

	mu     sync.Mutex
	offset int
}

// NewTelegramSource connects to the Bot API
func NewTelegramSource(cfg TelegramConfig) (*TelegramSource, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}

	limit := cfg.MaxPosts
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &TelegramSource{api: api, channelID: cfg.ChannelID, limit: limit}, nil
}

// Fetch returns the channel posts received since the previous call.
// Updates are acknowledged by advancing the offset, so a post is returned once.
func (s *TelegramSource) Fetch(ctx context.Context) ([]*database.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := tgbotapi.NewUpdate(s.offset)
	u.Limit = s.limit
	u.AllowedUpdates = []string{"channel_post", "edited_channel_post"}

	updates, err := s.api.GetUpdates(u)
	if err != nil {
		return nil, fmt.Errorf("failed to get telegram updates: %w", err)
	}

	var posts []*database.Announcement
	for _, update := range updates {
		if update.UpdateID >= s.offset {
			s.offset = update.UpdateID + 1
		}
		msg := update.ChannelPost
		if msg == nil {
			msg = update.EditedChannelPost
		}
		if post := postFromMessage(msg, s.channelID); post != nil {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

// postFromMessage converts a channel message, nil when it belongs to another
// chat or carries nothing to show. channelID 0 accepts any channel.
func postFromMessage(msg *tgbotapi.Message, channelID int64) *database.Announcement {
	if msg == nil || msg.Chat == nil {
		return nil
	}
	if channelID != 0 && msg.Chat.ID != channelID {
		return nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	post := &database.Announcement{
		ID:          int64(msg.MessageID),
		Text:        text,
		PostedAt:    msg.Time().UTC(),
		HasPhoto:    len(msg.Photo) > 0,
		HasVideo:    msg.Video != nil,
		HasDocument: msg.Document != nil,
	}
	if post.Text == "" && !post.HasPhoto && !post.HasVideo && !post.HasDocument {
		return nil
	}
	return post
}

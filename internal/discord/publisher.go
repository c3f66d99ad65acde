package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/terra-clan/mission-bot/internal/models"
)

// Publication errors
var (
	ErrTargetUnavailable = errors.New("discord target unavailable")
	ErrChannelNotFound   = errors.New("discord channel not found")
	ErrMessageNotFound   = errors.New("discord message not found")
)

// discordAPI is the subset of *discordgo.Session used by the publisher
type discordAPI interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Publisher posts missions to a single Discord channel
type Publisher struct {
	api       discordAPI
	channelID string
	layout    *Layout
	ready     atomic.Bool
}

// NewPublisher creates a publisher with a bot session; call Connect before use
func NewPublisher(token, channelID string, layout *Layout) (*Publisher, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	return newPublisher(session, channelID, layout), nil
}

func newPublisher(api discordAPI, channelID string, layout *Layout) *Publisher {
	if layout == nil {
		layout = DefaultLayout()
	}
	return &Publisher{
		api:       api,
		channelID: channelID,
		layout:    layout,
	}
}

// Connect opens the gateway connection and checks that the channel exists
func (p *Publisher) Connect(ctx context.Context) error {
	p.api.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		p.ready.Store(true)
		if r.User != nil {
			slog.Info("discord bot is ready", "user", r.User.Username)
		}
	})
	p.api.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		p.ready.Store(false)
		slog.Warn("discord gateway disconnected")
	})
	p.api.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		p.ready.Store(true)
		slog.Info("discord gateway resumed")
	})

	if err := p.api.Open(); err != nil {
		return fmt.Errorf("%w: failed to open gateway: %w", ErrTargetUnavailable, err)
	}

	if _, err := p.api.Channel(p.channelID, discordgo.WithContext(ctx)); err != nil {
		_ = p.api.Close()
		return classify(err, "failed to resolve channel "+p.channelID)
	}

	p.ready.Store(true)
	slog.Info("discord publisher connected", "channel_id", p.channelID)

	return nil
}

// Ready reports whether the gateway connection is usable
func (p *Publisher) Ready() bool {
	return p.ready.Load()
}

// Publish posts the mission embed and opens a discussion thread under it.
// The returned message id stays valid even if the thread cannot be created.
func (p *Publisher) Publish(ctx context.Context, m *models.Mission) (string, error) {
	if !p.Ready() {
		return "", fmt.Errorf("%w: client not ready", ErrTargetUnavailable)
	}

	msg, err := p.api.ChannelMessageSendComplex(p.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{BuildEmbed(m, p.layout)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err, "failed to send mission "+m.ID)
	}

	if !p.layout.Thread.Disabled {
		name := ThreadName(m, p.layout)
		_, err := p.api.MessageThreadStartComplex(p.channelID, msg.ID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: p.layout.Thread.AutoArchiveMinutes,
		}, discordgo.WithContext(ctx))
		if err != nil {
			slog.Warn("failed to create discussion thread",
				"mission_id", m.ID,
				"message_id", msg.ID,
				"thread", name,
				"error", err,
			)
		}
	}

	slog.Info("mission sent to discord", "mission_id", m.ID, "message_id", msg.ID)

	return msg.ID, nil
}

// Update re-renders the embed of an already published mission
func (p *Publisher) Update(ctx context.Context, ref string, m *models.Mission) error {
	if !p.Ready() {
		return fmt.Errorf("%w: client not ready", ErrTargetUnavailable)
	}

	edit := discordgo.NewMessageEdit(p.channelID, ref).SetEmbed(BuildEmbed(m, p.layout))
	if _, err := p.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return classify(err, "failed to update message "+ref)
	}

	slog.Info("mission updated on discord", "mission_id", m.ID, "message_id", ref)

	return nil
}

// Close shuts the gateway connection down
func (p *Publisher) Close() error {
	p.ready.Store(false)
	return p.api.Close()
}

// classify maps REST failures onto the publication error taxonomy
func classify(err error, msg string) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownChannel:
				return fmt.Errorf("%w: %s: %w", ErrChannelNotFound, msg, err)
			case discordgo.ErrCodeUnknownMessage:
				return fmt.Errorf("%w: %s: %w", ErrMessageNotFound, msg, err)
			}
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s: %w", ErrChannelNotFound, msg, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrTargetUnavailable, msg, err)
}

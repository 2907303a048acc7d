package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"RegimeWatch/internal/domain/models"
	"RegimeWatch/internal/domain/service"
	pkghttp "RegimeWatch/pkg/http"
)

const (
	colorRed    = 0xE74C3C
	colorGreen  = 0x2ECC71
	colorOrange = 0xE67E22
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []discordField    `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier sends alerts as a Discord webhook embed.
type DiscordNotifier struct {
	webhookURL string
	client     *pkghttp.Client
	now        func() time.Time
}

func NewDiscordNotifier(webhookURL string, client *pkghttp.Client) *DiscordNotifier {
	if client == nil {
		client = pkghttp.NewClient()
	}
	return &DiscordNotifier{webhookURL: webhookURL, client: client, now: time.Now}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, n service.Notification) error {
	err := d.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    d.webhookURL,
		Body:   discordPayload{Embeds: []discordEmbed{d.embed(n)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("discord post: %w", err)
	}
	return nil
}

func (d *DiscordNotifier) embed(n service.Notification) discordEmbed {
	desc := n.Message
	if len(n.Conditions) > 0 {
		desc += "\n- " + strings.Join(n.Conditions, "\n- ")
	}
	return discordEmbed{
		Title:       fmt.Sprintf("%s: %s (%s)", n.AlertType, n.State, n.Date),
		Description: desc,
		Color:       stateColor(n.State),
		Fields: []discordField{
			{Name: "Spread", Value: n.Spread, Inline: true},
			{Name: "Z-score", Value: n.ZScore, Inline: true},
			{Name: "Breadth %", Value: n.BreadthPct, Inline: true},
		},
		Footer:    map[string]string{"text": "RegimeWatch | " + n.ID},
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
}

func stateColor(s models.RegimeState) int {
	switch s {
	case models.StateRiskOn:
		return colorGreen
	case models.StateRiskOff, models.StateOffOverride:
		return colorRed
	default:
		return colorOrange
	}
}

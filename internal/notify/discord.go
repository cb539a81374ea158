package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discord embed limits.
const (
	discordMaxTitle       = 256
	discordMaxDescription = 4096
)

// Embed colours by alert severity.
const (
	colourInfo     = 0x3498DB
	colourDanger   = 0xF39C12
	colourCritical = 0xE74C3C
)

// DiscordSender delivers alerts to a Discord webhook as one embed per alert.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts title and message as an embed. The body is rendered as a code
// block so the per-leg columns line up.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	desc := "```\n" + message + "\n```"
	if len(desc) > discordMaxDescription {
		desc = desc[:discordMaxDescription-4] + "\n```"
	}
	if len(title) > discordMaxTitle {
		title = title[:discordMaxTitle]
	}

	body, err := json.Marshal(discordPayload{
		Username: "hedgerisk",
		Embeds:   []discordEmbed{{Title: title, Description: desc, Color: severityColour(title)}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// severityColour picks the embed colour from the alert title Format produces.
func severityColour(title string) int {
	switch {
	case strings.Contains(title, "critical"), strings.Contains(title, "auto-close"):
		return colourCritical
	case strings.Contains(title, "danger"):
		return colourDanger
	default:
		return colourInfo
	}
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

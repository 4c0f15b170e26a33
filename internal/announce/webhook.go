package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"keywatch-server/internal/model"
	"keywatch-server/internal/timefmt"
)

// Webhook posts session announcements to a Discord-compatible webhook.
// Publish uses ?wait=true so the response carries the message id, which
// Update and Retract then address via the messages sub-resource.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title  string       `json:"title"`
	Fields []embedField `json:"fields"`
	Footer struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type webhookMessage struct {
	Embeds []embed `json:"embeds"`
}

func sessionEmbed(sess model.Session, viewURL string) embed {
	online := "No"
	if sess.Online {
		online = "Yes"
	}
	e := embed{
		Title: fmt.Sprintf("Session for %s", sess.ID2),
		Fields: []embedField{
			{Name: "SteamID", Value: sess.ID2, Inline: true},
			{Name: "Link", Value: fmt.Sprintf("[View](%s)", viewURL), Inline: true},
			{Name: "Started", Value: timefmt.Moscow(sess.StartedAt), Inline: true},
			{Name: "Online", Value: online, Inline: true},
			{Name: "Last online", Value: timefmt.MoscowOrNA(sess.LastOnline), Inline: true},
			{Name: "Last offline", Value: timefmt.MoscowOrNA(sess.LastOffline), Inline: true},
		},
	}
	e.Footer.Text = "keywatch"
	return e
}

func (w *Webhook) Publish(ctx context.Context, sess model.Session, viewURL string) (string, error) {
	body, err := w.send(ctx, http.MethodPost, w.URL+"?wait=true", webhookMessage{Embeds: []embed{sessionEmbed(sess, viewURL)}})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("webhook response missing message id")
	}
	return resp.ID, nil
}

func (w *Webhook) Update(ctx context.Context, ref string, sess model.Session, viewURL string) error {
	_, err := w.send(ctx, http.MethodPatch, w.URL+"/messages/"+ref, webhookMessage{Embeds: []embed{sessionEmbed(sess, viewURL)}})
	return err
}

func (w *Webhook) Retract(ctx context.Context, ref string) error {
	_, err := w.send(ctx, http.MethodDelete, w.URL+"/messages/"+ref, nil)
	return err
}

func (w *Webhook) send(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode webhook payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return body, nil
}

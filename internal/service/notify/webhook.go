package notify

import (
	"context"
	"fmt"
	"net/url"

	"RegimeWatch/internal/domain/service"
	pkghttp "RegimeWatch/pkg/http"
)

// WebhookNotifier POSTs the notification as JSON.
type WebhookNotifier struct {
	url    string
	name   string
	client *pkghttp.Client
}

func NewWebhookNotifier(rawURL string, client *pkghttp.Client) *WebhookNotifier {
	name := "webhook"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = "webhook:" + u.Host
	}
	if client == nil {
		client = pkghttp.NewClient()
	}
	return &WebhookNotifier{url: rawURL, name: name, client: client}
}

func (w *WebhookNotifier) Name() string { return w.name }

func (w *WebhookNotifier) Notify(ctx context.Context, n service.Notification) error {
	err := w.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     w.url,
		Headers: map[string]string{"X-Notification-ID": n.ID},
		Body:    n,
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	return nil
}

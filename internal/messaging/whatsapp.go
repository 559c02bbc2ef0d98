package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppConfig configures the WhatsApp Cloud API transport.
type WhatsAppConfig struct {
	// PhoneNumberID is the business phone number id issued by Meta.
	PhoneNumberID string
	AccessToken   string
	// BaseURL overrides the Graph API endpoint, used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

// WhatsAppSender pushes text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	phoneNumberID string
	accessToken   string
	baseURL       string
	client        *http.Client
}

// NewWhatsAppSender builds the transport from its configuration.
func NewWhatsAppSender(cfg WhatsAppConfig) (*WhatsAppSender, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, fmt.Errorf("whatsapp sender requires phone number id")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("whatsapp sender requires access token")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &WhatsAppSender{
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		baseURL:       baseURL,
		client:        client,
	}, nil
}

// Name implements Sender.
func (s *WhatsAppSender) Name() string { return "whatsapp" }

type whatsAppTextPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

// Send implements Sender. The recipient must be a phone number in E.164
// digits; a leading plus sign is stripped.
func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	to := NormalizePhone(msg.To)
	if to == "" {
		return fmt.Errorf("whatsapp send: recipient phone is required")
	}
	payload, err := json.Marshal(whatsAppTextPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             whatsAppText{Body: msg.Body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp send: encode payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp send: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NormalizePhone reduces a phone number to the bare digit form the Cloud API
// and wa.me links expect.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hearth/internal/models"
)

const smsTimeout = 15 * time.Second

// SMSNotifier posts codes to an HTTP SMS gateway. The gateway contract is a
// plain JSON body with an API key header.
type SMSNotifier struct {
	gatewayURL string
	apiKey     string
	from       string
	client     *http.Client
}

func NewSMSNotifier(gatewayURL, apiKey, from string) *SMSNotifier {
	return &SMSNotifier{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		from:       from,
		client:     &http.Client{Timeout: smsTimeout},
	}
}

type smsPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func (s *SMSNotifier) SendCode(ctx context.Context, user *models.User, code string, ttl time.Duration) error {
	if user.PhoneNumber == "" {
		return fmt.Errorf("user %s has no phone number on file", user.ID)
	}

	payload := smsPayload{
		To:      user.PhoneNumber,
		From:    s.from,
		Message: fmt.Sprintf("Your Hearth verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes())),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding SMS payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("SMS gateway responded with status %d", resp.StatusCode)
	}

	return nil
}

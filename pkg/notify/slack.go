package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/cryptobox"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

// slackProvider is the OAuthIntegration.provider value the Slack
// sub-dispatcher looks up.
const slackProvider = "slack"

// defaultSlackAPIBase is the Slack Web API base; overridable for testing
// against a local httptest server.
const defaultSlackAPIBase = "https://slack.com/api"

// IntegrationStore is the narrow storage slice SlackSender needs to find a
// user's Slack OAuth token.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, userID uuid.UUID, provider string) (*models.OAuthIntegration, error)
}

// SlackSender posts Block-Kit messages to a user's connected Slack channel.
// Delivery is best-effort: failures are logged, never retried.
type SlackSender struct {
	integrations IntegrationStore
	box          *cryptobox.Box
	httpClient   *http.Client
	apiBase      string
}

func NewSlackSender(integrations IntegrationStore, box *cryptobox.Box) *SlackSender {
	return &SlackSender{
		integrations: integrations,
		box:          box,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		apiBase:      defaultSlackAPIBase,
	}
}

type slackPostMessageRequest struct {
	Channel string       `json:"channel"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string          `json:"type"`
	Text *slackBlockText `json:"text,omitempty"`
}

type slackBlockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackAPIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// send looks up the user's integration, decrypts the token, and posts the
// notification to the configured channel using Block-Kit rendering.
func (s *SlackSender) send(ctx context.Context, userID uuid.UUID, taskName, notification string) error {
	integration, err := s.integrations.GetIntegration(ctx, userID, slackProvider)
	if err != nil {
		return fmt.Errorf("no slack integration for user: %w", err)
	}

	token, err := s.box.Decrypt(integration.EncryptedAccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt slack access token: %w", err)
	}

	body := slackPostMessageRequest{
		Channel: integration.ChannelID,
		Text:    fmt.Sprintf("%s: %s", taskName, notification),
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackBlockText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", taskName, notification)},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	var apiResp slackAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("slack api error: %s", apiResp.Error)
	}
	return nil
}

func (d *Dispatcher) dispatchSlack(ctx context.Context, task models.Task, owner models.User, exec models.TaskExecution, notification string) {
	status := models.NotificationSendSuccess
	var errMsg *string

	if err := d.slack.send(ctx, owner.ID, task.Name, notification); err != nil {
		status = models.NotificationSendFailed
		msg := err.Error()
		errMsg = &msg
		logger.Warn("slack dispatch failed, not retrying",
			zap.String("task_id", task.ID.String()), zap.Error(err))
	}

	d.recordSend(ctx, task.ID, exec.ID, owner.ID.String(), models.NotificationChannelSlack, status, errMsg)
}

package payhere

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ceylonbites/checkout/internal/config"
	"go.uber.org/zap"
)

// Client calls the gateway's subscription-manager API. Cancellation is a
// best-effort side call: callers must treat failures as non-fatal and record
// them for manual follow-up.
type Client struct {
	cfg  config.PayHereConfig
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		cfg: cfg.PayHere,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.Named("payhere.client"),
	}
}

var errMissingCredentials = errors.New("payhere app credentials not configured")

// CancelRecurring retires a recurring token at the gateway so no further
// automatic charges occur.
func (c *Client) CancelRecurring(ctx context.Context, recurringToken string) error {
	recurringToken = strings.TrimSpace(recurringToken)
	if recurringToken == "" {
		return errors.New("recurring token is empty")
	}

	accessToken, err := c.authorize(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"subscription_id": recurringToken,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+"/merchant/v1/subscription/cancel", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway cancellation failed: status %d", resp.StatusCode)
	}

	c.log.Info("recurring token cancelled at gateway")
	return nil
}

func (c *Client) authorize(ctx context.Context) (string, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return "", errMissingCredentials
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+"/merchant/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.AppID + ":" + c.cfg.AppSecret))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway token request failed: status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", errors.New("gateway token response missing access_token")
	}
	return payload.AccessToken, nil
}

// Package remote talks to the captain server's REST API on behalf of the
// notification synchronizer.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"captain/internal/models"
	"captain/internal/utils"
	"captain/pkg/logger"
)

type Config struct {
	BaseURL string
	Token   string
	Device  models.Device
	Timeout time.Duration
}

type Client struct {
	config Config
	http   *http.Client
	log    *logger.Logger
}

type syncRequest struct {
	Notifications []models.Notification `json:"notifications"`
}

func NewClient(config Config, log *logger.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		log:    log.WithComponent("remote"),
	}
}

func (c *Client) FetchRemoteNotifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) SyncToServer(ctx context.Context, notifications []models.Notification) error {
	return c.do(ctx, http.MethodPut, "/notifications", syncRequest{Notifications: notifications}, nil)
}

// RegisterDeviceForPush reports false without calling the server when no
// push token is configured.
func (c *Client) RegisterDeviceForPush(ctx context.Context) (bool, error) {
	if c.config.Device.Token == "" {
		c.log.Debug("No push token configured, skipping device registration")
		return false, nil
	}
	if err := c.do(ctx, http.MethodPost, "/devices", c.config.Device, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.log.LogAPIRequest(method, path, resp.StatusCode, time.Since(start), "")

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := utils.DecodeData(data, dest); err != nil {
		return fmt.Errorf("%s %s (%d): %w", method, path, resp.StatusCode, err)
	}
	return nil
}

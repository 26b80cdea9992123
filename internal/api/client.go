// Package api talks to the call-management service: the REST surface used to
// create and fetch call metadata before a live session starts.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/domain"
)

// CreateCallRequest shapes the call-creation payload.
type CreateCallRequest struct {
	CommunityID     domain.CommunityID       `json:"communityId"`
	Title           string                   `json:"title"`
	Description     string                   `json:"description"`
	Kind            domain.CallKind          `json:"callType"`
	Slots           int                      `json:"slots"`
	StageSlots      int                      `json:"stageSlots"`
	AudioOnly       bool                     `json:"audioOnly"`
	HighQuality     bool                     `json:"highQuality"`
	RolePermissions []domain.RolePermissions `json:"rolePermissions,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client is a thin REST client for call metadata.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, authToken string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	if authToken != "" {
		c.SetAuthToken(authToken)
	}
	return &Client{http: c}
}

func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*domain.Call, error) {
	var call domain.Call
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&call).
		SetError(&apiErr).
		Post("/calls")
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("create call: %s (%s)", apiErr.Message, res.Status())
	}
	log.Info().Str("module", "api").Str("call", string(call.ID)).Msg("call created")
	return &call, nil
}

func (c *Client) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var call domain.Call
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&call).
		SetError(&apiErr).
		Get("/calls/" + string(id))
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("get call: %s (%s)", apiErr.Message, res.Status())
	}
	return &call, nil
}

// RegisterEventParticipant records the local user in the participant list of
// a scheduled community event after joining its call.
func (c *Client) RegisterEventParticipant(ctx context.Context, id domain.CallID) error {
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		Post("/calls/" + string(id) + "/participants")
	if err != nil {
		return fmt.Errorf("register participant: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("register participant: %s (%s)", apiErr.Message, res.Status())
	}
	return nil
}

package vrf

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

// RemoteConfig configures the client for an external VRF service.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration

	// Token is sent as a bearer token when set.
	Token string

	// RequestIDPath is the gjson path of the request id in the response.
	RequestIDPath string
}

// RemoteOracle requests randomness from an external VRF service over HTTP.
// The service answers asynchronously through the raffle fulfillment
// endpoint.
type RemoteOracle struct {
	client *httputil.Client
	idPath string
}

// NewRemoteOracle creates a client for cfg.BaseURL.
func NewRemoteOracle(cfg RemoteConfig) *RemoteOracle {
	idPath := cfg.RequestIDPath
	if idPath == "" {
		idPath = "request_id"
	}
	return &RemoteOracle{
		client: httputil.NewClient(httputil.ClientConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Token:   cfg.Token,
		}),
		idPath: idPath,
	}
}

type remoteRequest struct {
	KeyHash          string `json:"key_hash"`
	SubscriptionID   uint64 `json:"subscription_id"`
	Confirmations    uint16 `json:"confirmations"`
	CallbackGasLimit uint32 `json:"callback_gas_limit"`
	NumWords         uint32 `json:"num_words"`
	Requester        string `json:"requester"`
}

// RequestRandomWords implements raffle.Oracle.
func (o *RemoteOracle) RequestRandomWords(ctx context.Context, req raffle.RandomnessRequest) (raffle.RequestID, error) {
	resp, err := o.client.PostJSON(ctx, "/v1/requests", remoteRequest{
		KeyHash:          req.KeyHash.Hex(),
		SubscriptionID:   req.SubscriptionID,
		Confirmations:    req.Confirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
		Requester:        req.Requester.Hex(),
	})
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	if !resp.OK() {
		msg := gjson.GetBytes(resp.Body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
		}
		return 0, fmt.Errorf("vrf service returned %d: %s", resp.StatusCode, msg)
	}

	result := gjson.GetBytes(resp.Body, o.idPath)
	switch result.Type {
	case gjson.Number:
		return raffle.RequestID(result.Uint()), nil
	case gjson.String:
		return raffle.ParseRequestID(result.String())
	default:
		return 0, fmt.Errorf("vrf service response has no %q", o.idPath)
	}
}

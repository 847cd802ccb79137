package vrf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

func TestRemoteOracleRequest(t *testing.T) {
	var got remoteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/requests" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"request":{"id":"17","status":"pending"}}`))
	}))
	defer server.Close()

	oracle := NewRemoteOracle(RemoteConfig{BaseURL: server.URL + "/", Token: "secret", RequestIDPath: "request.id"})
	id, err := oracle.RequestRandomWords(context.Background(), raffle.RandomnessRequest{
		KeyHash:          common.HexToHash("0x01"),
		SubscriptionID:   4,
		CallbackGasLimit: 100000,
		NumWords:         1,
		Requester:        raffleAddr,
	})
	require.NoError(t, err)
	assert.Equal(t, raffle.RequestID(17), id)
	assert.Equal(t, uint64(4), got.SubscriptionID)
	assert.Equal(t, raffleAddr.Hex(), got.Requester)
}

func TestRemoteOracleNumericID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":9}`))
	}))
	defer server.Close()

	id, err := NewRemoteOracle(RemoteConfig{BaseURL: server.URL}).RequestRandomWords(context.Background(), raffle.RandomnessRequest{})
	require.NoError(t, err)
	assert.Equal(t, raffle.RequestID(9), id)
}

func TestRemoteOracleErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"service error", http.StatusBadRequest, `{"error":"subscription not funded"}`, "subscription not funded"},
		{"missing id", http.StatusOK, `{"status":"ok"}`, "has no"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewRemoteOracle(RemoteConfig{BaseURL: server.URL}).RequestRandomWords(context.Background(), raffle.RandomnessRequest{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HTTPRoomProvisioner calls the external video-room service. The service is
// opaque to this core: one POST in, room and token handles out.
type HTTPRoomProvisioner struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPRoomProvisioner(url, apiKey string) *HTTPRoomProvisioner {
	return &HTTPRoomProvisioner{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPRoomProvisioner) CreateRoom(ctx context.Context, sessionID string) (Room, error) {
	body, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Room{}, errors.Wrap(err, "build room request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Room{}, errors.Wrap(err, "call room service")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Room{}, errors.Errorf("room service status %d", resp.StatusCode)
	}

	var out struct {
		RoomURL         string `json:"roomUrl"`
		RequesterToken  string `json:"requesterToken"`
		ConsultantToken string `json:"consultantToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Room{}, errors.Wrap(err, "decode room response")
	}
	return Room{URL: out.RoomURL, RequesterToken: out.RequesterToken, ConsultantToken: out.ConsultantToken}, nil
}

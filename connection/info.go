package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kelbie/georelay/logging"
)

const (
	infoTimeout  = 4 * time.Second
	infoMaxBytes = 1 << 20
)

// RelayInfo is the self-description document a relay serves over HTTP when
// asked with the nostr+json accept header.
type RelayInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	PubKey        string `json:"pubkey"`
	Contact       string `json:"contact"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

// FetchRelayInfo retrieves a relay's information document. The websocket URL
// is mapped to its HTTP equivalent before the request.
func FetchRelayInfo(ctx context.Context, url string) (*RelayInfo, error) {
	httpURL := url
	switch {
	case strings.HasPrefix(url, "wss://"):
		httpURL = "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		httpURL = "http://" + strings.TrimPrefix(url, "ws://")
	}

	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connection: build info request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection: fetch info from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connection: info request to %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, infoMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("connection: read info from %s: %w", url, err)
	}

	var info RelayInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("connection: decode info from %s: %w", url, err)
	}

	logging.DebugMethod("connection", "FetchRelayInfo", "Relay %s runs %s %s", url, info.Software, info.Version)
	return &info, nil
}

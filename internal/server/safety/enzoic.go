package safety

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/passvault/internal/common"
)

const (
	DefaultEnzoicURL = "https://api.enzoic.com/v1/passwords"
	partialHashLen   = 10
	maxBodySize      = 1 << 20
)

// Enzoic queries the Enzoic passwords API with a partial SHA-256 of the
// secret, so the full secret never leaves the server.
type Enzoic struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func NewEnzoic(url, apiKey string, timeout time.Duration) *Enzoic {
	if url == "" {
		url = DefaultEnzoicURL
	}
	return &Enzoic{
		URL:     url,
		APIKey:  apiKey,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

type enzoicRequest struct {
	PartialSHA256 string `json:"partialSHA256"`
}

type enzoicResponse struct {
	Candidates []struct {
		SHA256        string `json:"sha256"`
		ExposureCount int    `json:"exposureCount"`
	} `json:"candidates"`
}

func (e *Enzoic) Check(ctx context.Context, secret string) (Verdict, error) {
	if e.APIKey == "" {
		return Verdict{}, fmt.Errorf("%w: breach-check API key is missing", common.ErrDependencyUnavailable)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	sum := sha256.Sum256([]byte(secret))
	full := hex.EncodeToString(sum[:])

	body, err := json.Marshal(enzoicRequest{PartialSHA256: full[:partialHashLen]})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: build request: %v", common.ErrDependencyUnavailable, err)
	}
	req.Header.Set("Authorization", "Basic "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Verdict{}, fmt.Errorf("%w: breach check timed out", common.ErrDependencyUnavailable)
		}
		return Verdict{}, fmt.Errorf("%w: network error while checking password: %v", common.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Verdict{}, fmt.Errorf("%w: too many requests, please try again later", common.ErrDependencyUnavailable)
	case resp.StatusCode != http.StatusOK:
		return Verdict{}, fmt.Errorf("%w: breach check returned %s", common.ErrDependencyUnavailable, resp.Status)
	}

	var out enzoicResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("%w: unreadable breach-check response: %v", common.ErrDependencyUnavailable, err)
	}

	for _, c := range out.Candidates {
		if c.SHA256 == full && c.ExposureCount > 0 {
			return Verdict{
				Safe:      false,
				Exposures: c.ExposureCount,
				Reason:    fmt.Sprintf("This password has been exposed %d times! Choose a stronger password.", c.ExposureCount),
			}, nil
		}
	}
	return Verdict{Safe: true, Reason: "Password was checked and it is secure!"}, nil
}

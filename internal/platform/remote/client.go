// Package remote is the HTTP client for the managed clinic backend.
// The backend owns all server-side persistence and search; this
// package only moves requests across the wire and classifies what
// came back.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/pkg/records"
)

type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     zerolog.Logger
}

// NewClient builds a client for the backend at baseURL. token is sent
// as a bearer credential on every call; pass "" when the backend is
// open on the clinic VPN.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
		log:     log,
	}
}

// HealthURL is the endpoint the connectivity probe polls.
func (c *Client) HealthURL() string {
	return c.baseURL + "/health"
}

// SearchPatients queries the remote patient index by name fragment or
// partial phone number.
func (c *Client) SearchPatients(ctx context.Context, term, kind string) ([]records.PatientRecord, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("kind", kind)

	var out struct {
		Patients []records.PatientRecord `json:"patients"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/patients/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Patients, nil
}

// SearchLegacyRecords is the secondary lookup consulted before
// declaring "no results" on a phone search. Phone-only.
func (c *Client) SearchLegacyRecords(ctx context.Context, phone string) ([]records.PatientRecord, error) {
	q := url.Values{}
	q.Set("phone", phone)

	var out struct {
		Patients []records.PatientRecord `json:"patients"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/legacy-records?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Patients, nil
}

// Register sends a full registration draft. Business outcomes
// (duplicate-for-today, near matches) come back inside the decoded
// response, not as an error; only transport failures and HTTP-level
// rejections are errors.
func (c *Client) Register(ctx context.Context, req records.RegisterRequest) (*records.RegisterResponse, error) {
	var resp records.RegisterResponse
	if err := c.doJSON(ctx, http.MethodPost, "/registrations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// The request never completed against the service.
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var fail struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&fail)
		msg := fail.Message
		if msg == "" {
			msg = fail.Error
		}
		return &ServiceError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// The service answered but with an unreadable body; that
			// is a service fault, not a transport one.
			return &ServiceError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
		}
	}
	return nil
}

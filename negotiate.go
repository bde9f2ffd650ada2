package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxNegotiateResponseSize = 1 << 20

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiationResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []availableTransport `json:"availableTransports"`

	// set when the service redirects the client, e.g. Azure SignalR Service
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`

	Error string `json:"error"`
}

// endpoint is where a session dials and which headers it sends.
type endpoint struct {
	url    string
	header http.Header
}

// resolveEndpoint derives the websocket endpoint from the configured URL,
// negotiating first unless configured otherwise. The configured URL is never
// modified, so every reconnect negotiates afresh.
func (c *client) resolveEndpoint(ctx context.Context) (*endpoint, error) {
	base, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("signalr: invalid url %q: %w", c.config.URL, err)
	}

	header := c.config.RequestHeaders.Clone()
	if header == nil {
		header = make(http.Header)
	}

	if c.config.SkipNegotiation {
		return &endpoint{url: toWebSocketURL(base).String(), header: header}, nil
	}

	resp, err := c.negotiate(ctx, base, header)
	if err != nil {
		return nil, err
	}

	return applyNegotiation(base, header, resp)
}

func (c *client) negotiate(ctx context.Context, base *url.URL, header http.Header) (*negotiationResponse, error) {
	var (
		request  *http.Request
		response *http.Response
		result   negotiationResponse
		err      error
		body     []byte
	)

	negotiationURL := negotiateURL(base, c.config.NegotiatePath)
	c.logger.Debug("negotiating", "url", negotiationURL.String())

	if request, err = http.NewRequestWithContext(ctx, http.MethodPost, negotiationURL.String(), nil); err != nil {
		return nil, &NegotiationError{Err: err}
	}

	for k, values := range header {
		for _, val := range values {
			request.Header.Add(k, val)
		}
	}

	if response, err = c.config.Client.Do(request); err != nil {
		return nil, &NegotiationError{Err: err}
	}

	defer response.Body.Close()

	c.logger.Debug("negotiate response", "status", response.StatusCode)

	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case response.StatusCode != http.StatusOK:
		return nil, &NegotiationError{StatusCode: response.StatusCode}
	}

	if body, err = io.ReadAll(io.LimitReader(response.Body, maxNegotiateResponseSize)); err != nil {
		return nil, &NegotiationError{StatusCode: response.StatusCode, Err: err}
	}

	if err = json.Unmarshal(body, &result); err != nil {
		err = fmt.Errorf("failed to parse response '%s': %w", string(body), err)
		return nil, &NegotiationError{StatusCode: response.StatusCode, Err: err}
	}

	if result.Error != "" {
		return nil, &NegotiationError{StatusCode: response.StatusCode, Message: result.Error}
	}

	return &result, nil
}

// applyNegotiation turns a negotiate response into the websocket endpoint.
// A redirect replaces the URL and authenticates with the returned access
// token; otherwise the connection id is appended as the "id" query parameter.
func applyNegotiation(base *url.URL, header http.Header, resp *negotiationResponse) (*endpoint, error) {
	if resp.URL != "" && resp.AccessToken != "" {
		redirect, err := url.Parse(resp.URL)
		if err != nil {
			return nil, &NegotiationError{Err: fmt.Errorf("invalid redirect url %q: %w", resp.URL, err)}
		}
		header.Set("Authorization", "Bearer "+resp.AccessToken)
		return &endpoint{url: toWebSocketURL(redirect).String(), header: header}, nil
	}

	id := resp.ConnectionID
	if resp.NegotiateVersion >= 1 && resp.ConnectionToken != "" {
		id = resp.ConnectionToken
	}

	u := toWebSocketURL(base)
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}

	return &endpoint{url: u.String(), header: header}, nil
}

func negotiateURL(base *url.URL, negotiatePath string) *url.URL {
	u := *base
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(negotiatePath, "/")
	u.RawPath = ""
	return &u
}

func toWebSocketURL(base *url.URL) *url.URL {
	u := *base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return &u
}

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/tidwall/gjson"

	"github.com/GPTx-global/crank/oracle/types"
)

// Resolver looks up the job definitions behind a feed so the gateway does not
// have to. It returns the raw JSON array of jobs.
type Resolver interface {
	Resolve(ctx context.Context, feed types.Feed) ([]byte, error)
}

// CrossbarClient resolves feeds through a crossbar service.
type CrossbarClient struct {
	baseURL string
	http    *http.Client
}

// NewCrossbarClient talks to the crossbar service at baseURL.
func NewCrossbarClient(baseURL string) *CrossbarClient {
	return &CrossbarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient(),
	}
}

// Resolve fetches the jobs of feed as a JSON array.
func (c *CrossbarClient) Resolve(ctx context.Context, feed types.Feed) ([]byte, error) {
	url := fmt.Sprintf("%s/fetch/solana/%s", c.baseURL, feed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "crossbar url %q: %v", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "crossbar: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "crossbar: failed to read response body: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, errorsmod.Wrapf(types.ErrGateway, "crossbar: unexpected HTTP status: %s (%s)", res.Status, string(body))
	}

	jobs := gjson.GetBytes(body, "jobs")
	if !jobs.IsArray() || len(jobs.Array()) == 0 {
		return nil, errorsmod.Wrapf(types.ErrMalformedResponse, "crossbar: no jobs for feed %s", feed)
	}

	return []byte(jobs.Raw), nil
}

package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/sjson"

	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

const (
	apiVersion  = "1.0.0"
	fetchPath   = "/gateway/api/v1/fetch_update"
	testPath    = "/gateway/api/v1/test"
	userAgent   = "Crank/1.0"
	maxBodySize = 4 << 20
)

var (
	once   sync.Once
	client *http.Client
)

// httpClient returns the shared HTTP client. Deadlines come from request contexts.
func httpClient() *http.Client {
	once.Do(func() {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})

	return client
}

// Request asks a gateway for signed attestations of one feed.
type Request struct {
	Feed          types.Feed
	Payer         solana.PublicKey
	NumSignatures int
	Jobs          []byte // optional, raw JSON array from a Resolver
}

// Reply is one gateway's answer: the update instruction it built and the
// oracle responses behind it, in the gateway's order.
type Reply struct {
	Gateway     types.Gateway
	Instruction *types.UpdateInstruction
	Responses   []types.OracleResponse
}

// Client queries gateways for attestations.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// NewClient bounds every gateway fetch by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    httpClient(),
		timeout: timeout,
	}
}

// Query sends req to every gateway concurrently and waits until all of them
// settle or the timeout expires. Replies arriving after the deadline are
// discarded. Replies come back in gateway order; an error is returned only
// when no gateway replied.
func (c *Client) Query(ctx context.Context, req Request, gateways []types.Gateway) ([]Reply, error) {
	if len(gateways) == 0 {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "no gateways selected")
	}

	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	replies := cmap.New[Reply]()
	failures := cmap.New[error]()

	var wg sync.WaitGroup
	for _, gw := range gateways {
		wg.Add(1)
		go func(gw types.Gateway) {
			defer wg.Done()

			reply, err := c.fetch(ctx, gw, body)
			if err != nil {
				failures.Set(gw.Endpoint, err)
				return
			}
			replies.Set(gw.Endpoint, *reply)
		}(gw)
	}

	settled := make(chan struct{})
	go func() {
		wg.Wait()
		close(settled)
	}()

	select {
	case <-settled:
	case <-ctx.Done():
		log.Debugf("gateway deadline of %s expired with %d/%d replies", c.timeout, replies.Count(), len(gateways))
	}

	arrived := replies.Items()
	out := make([]Reply, 0, len(arrived))
	for _, gw := range gateways {
		if reply, ok := arrived[gw.Endpoint]; ok {
			out = append(out, reply)
		}
	}

	if len(out) > 0 {
		return out, nil
	}

	errs := failures.Items()
	for _, gw := range gateways {
		if err, ok := errs[gw.Endpoint]; ok {
			return nil, err
		}
	}

	return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "no gateway replied within %s", c.timeout)
}

func (c *Client) fetch(ctx context.Context, gw types.Gateway, body []byte) (*Reply, error) {
	url := strings.TrimRight(gw.Endpoint, "/") + fetchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "gateway url %q: %v", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "%s: %v", gw.Endpoint, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "%s: failed to read response body: %v", gw.Endpoint, err)
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, errorsmod.Wrapf(types.ErrGatewayUnreachable, "%s: %s", gw.Endpoint, res.Status)
	case res.StatusCode != http.StatusOK:
		return nil, errorsmod.Wrapf(types.ErrGateway, "%s: unexpected HTTP status: %s (%s)", gw.Endpoint, res.Status, string(raw))
	}

	return decodeReply(gw, raw)
}

// Probe reports whether the gateway answers its test endpoint.
func (c *Client) Probe(ctx context.Context, gw types.Gateway) bool {
	ctx, cancel := context.WithTimeout(ctx, min(c.timeout, 5*time.Second))
	defer cancel()

	url := strings.TrimRight(gw.Endpoint, "/") + testPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodySize))

	return res.StatusCode == http.StatusOK
}

func encodeRequest(req Request) ([]byte, error) {
	body := []byte(`{}`)

	fields := []struct {
		path  string
		value any
	}{
		{"api_version", apiVersion},
		{"feed", req.Feed.String()},
		{"payer", req.Payer.String()},
		{"num_signatures", req.NumSignatures},
	}

	var err error
	for _, f := range fields {
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "failed to encode %s: %v", f.path, err)
		}
	}

	if len(req.Jobs) > 0 {
		if body, err = sjson.SetRawBytes(body, "jobs", req.Jobs); err != nil {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "failed to encode jobs: %v", err)
		}
	}

	return body, nil
}

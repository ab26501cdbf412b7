// Package client is a Go client for the sequencer's HTTP surface, used by the
// CLI and by consumers that replay or follow the block stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/manifest-network/seqd/internal/models"
	"github.com/manifest-network/seqd/internal/server"
)

// ErrShutdown is returned by NextBlock when the sequencer shut down while the
// long poll was parked.
var ErrShutdown = errors.New("sequencer shut down")

// Client talks to a running sequencer daemon.
type Client struct {
	rc   *resty.Client
	poll *resty.Client
}

// New creates a client for the daemon at baseURL. Requests other than the
// long-polling NextBlock use a modest default timeout; the long poll is
// bounded only by its context.
func New(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	poll := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, poll: poll}
}

// PublishTransaction submits a single transaction and returns its identity.
func (c *Client) PublishTransaction(ctx context.Context, domain string, data []byte) (models.TxID, error) {
	var out server.TransactionResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(server.TransactionRequest{Domain: domain, Data: data}).
		SetResult(&out).
		Post("/v1/transactions")
	if err != nil {
		return models.TxID{}, fmt.Errorf("failed to publish transaction: %w", err)
	}
	if resp.IsError() {
		return models.TxID{}, fmt.Errorf("publish rejected: %s: %s", resp.Status(), resp.String())
	}
	return out.ID, nil
}

// PublishBundle submits an atomic bundle and returns its member identities.
func (c *Client) PublishBundle(ctx context.Context, txs []server.TransactionRequest) ([]models.TxID, error) {
	var out server.BundleResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(server.BundleRequest{Txs: txs}).
		SetResult(&out).
		Post("/v1/bundles")
	if err != nil {
		return nil, fmt.Errorf("failed to publish bundle: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bundle rejected: %s: %s", resp.Status(), resp.String())
	}
	return out.IDs, nil
}

// GetBlock fetches the block at the given height.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*models.Block, error) {
	var out models.Block
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/v1/blocks/%d", height))
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get block %d: %s: %s", height, resp.Status(), resp.String())
	}
	return &out, nil
}

// Tip fetches the newest block in the log.
func (c *Client) Tip(ctx context.Context) (*models.Block, error) {
	var out models.Block
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/blocks/tip")
	if err != nil {
		return nil, fmt.Errorf("failed to get tip: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get tip: %s: %s", resp.Status(), resp.String())
	}
	return &out, nil
}

// NextBlock long-polls for the block at height from. The request timeout is
// disabled; cancellation comes from ctx. A 204 means the daemon shut down.
func (c *Client) NextBlock(ctx context.Context, from uint64) (*models.Block, error) {
	var out models.Block
	resp, err := c.poll.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("from", fmt.Sprintf("%d", from)).
		Get("/v1/blocks/next")
	if err != nil {
		return nil, fmt.Errorf("failed to wait for next block: %w", err)
	}
	if resp.StatusCode() == 204 {
		return nil, ErrShutdown
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wait for next block: %s: %s", resp.Status(), resp.String())
	}
	return &out, nil
}

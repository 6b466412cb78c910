package market

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/fapi/v1/ping", nil)
	return err
}

// Depth returns an order book snapshot with up to limit levels per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (Depth, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return Depth{}, err
	}
	var raw struct {
		Time int64   `json:"E"`
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Depth{}, err
	}
	return Depth{
		Symbol: symbol,
		Bids:   levels(raw.Bids),
		Asks:   levels(raw.Asks),
		Time:   raw.Time,
	}, nil
}

package binance

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tickwire/tickwire/pkg/exchange"
)

// Account fetches the signed account snapshot for the market. The body is
// returned verbatim; account_info stores whatever the exchange said.
func (c *Client) Account(ctx context.Context, market string) (json.RawMessage, error) {
	if c.signer == nil {
		return nil, exchange.ErrNoCredentials
	}

	path := marketPath(market, "/api/v3/account", "/fapi/v2/account")
	body, err := c.doWithRetry(ctx, http.MethodGet, market, path, nil, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

package broker

import (
	"context"
)

// GetAsset fetches asset metadata, served from the process-lifetime cache
// when available. Races on insert are allowed; last writer wins.
func (c *Client) GetAsset(ctx context.Context, symbol string) (*AssetInfo, error) {
	c.assetMu.RLock()
	cached, ok := c.assetCache[symbol]
	c.assetMu.RUnlock()
	if ok {
		return &cached, nil
	}

	var w wireAsset
	if err := c.getTrading(ctx, "/assets/"+symbol, "get_asset", nil, &w); err != nil {
		return nil, err
	}
	asset := w.fromWire()

	c.assetMu.Lock()
	c.assetCache[symbol] = asset
	c.assetMu.Unlock()

	return &asset, nil
}

// IsFractionable reports whether the asset supports fractional orders.
// Unknown assets default to false so sizing rounds to whole shares.
func (c *Client) IsFractionable(ctx context.Context, symbol string) bool {
	asset, err := c.GetAsset(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Asset lookup failed, assuming not fractionable")
		return false
	}
	return asset.Fractionable
}

// ClearAssetCache flushes the in-process asset cache
func (c *Client) ClearAssetCache() {
	c.assetMu.Lock()
	c.assetCache = make(map[string]AssetInfo)
	c.assetMu.Unlock()
}

package auctionapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// UserBid is one row of a user's bid history across auctions.
type UserBid struct {
	AuctionID  string `json:"auction_id"`
	Amount     int64  `json:"amount"`
	PlacedAtMS int64  `json:"placed_at_ms"`
}

// UserBids fetches the full bid history for a user, newest first per the
// service's ordering.
func (c *Client) UserBids(ctx context.Context, userID string) ([]UserBid, error) {
	body, err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/bids")
	if err != nil {
		return nil, fmt.Errorf("failed to get bids for %s: %w", userID, err)
	}

	var bids []UserBid
	if err := json.Unmarshal(body, &bids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user bids: %w", err)
	}
	return bids, nil
}

// LatestPerAuction keeps only the newest bid per auction, preserving the
// input's relative order of the surviving rows. Pure post-processing; no
// room state is involved.
func LatestPerAuction(bids []UserBid) []UserBid {
	best := make(map[string]int, len(bids))
	for i, bid := range bids {
		j, seen := best[bid.AuctionID]
		if !seen || bid.PlacedAtMS > bids[j].PlacedAtMS {
			best[bid.AuctionID] = i
		}
	}

	out := make([]UserBid, 0, len(best))
	for i, bid := range bids {
		if best[bid.AuctionID] == i {
			out = append(out, bid)
		}
	}
	return out
}

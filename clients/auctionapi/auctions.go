package auctionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

// Auction status values reported by the metadata endpoint.
const (
	StatusOpen  = "open"
	StatusEnded = "ended"
)

// Auction is the base metadata for one listing.
type Auction struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	SellerID     string     `json:"seller_id"`
	StartingBid  int64      `json:"starting_bid"`
	MinIncrement int64      `json:"min_increment"`
	Status       string     `json:"status"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}

// LiveState is the best-effort live view of a room. The numeric
// time_remaining_seconds field is authoritative; time_remaining is a
// pre-formatted fallback label only.
type LiveState struct {
	HighBid              int64           `json:"high_bid"`
	HighBidderID         string          `json:"high_bidder_id,omitempty"`
	TopBids              []events.TopBid `json:"top_bids"`
	BidCount             int             `json:"bid_count"`
	ParticipantCount     int             `json:"participant_count"`
	TimeRemainingSeconds *int64          `json:"time_remaining_seconds,omitempty"`
	TimeRemaining        string          `json:"time_remaining,omitempty"`
	Closed               bool            `json:"closed"`
}

// BidReceipt acknowledges an accepted bid.
type BidReceipt struct {
	Accepted bool  `json:"accepted"`
	HighBid  int64 `json:"high_bid"`
}

// AuctionMetadata fetches the base metadata for an auction.
func (c *Client) AuctionMetadata(ctx context.Context, auctionID string) (*Auction, error) {
	body, err := c.get(ctx, "/api/auctions/"+url.PathEscape(auctionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}

	var auction Auction
	if err := json.Unmarshal(body, &auction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auction: %w", err)
	}
	return &auction, nil
}

// LiveState fetches the live room state for an auction.
func (c *Client) LiveState(ctx context.Context, auctionID string) (*LiveState, error) {
	body, err := c.get(ctx, "/api/auctions/"+url.PathEscape(auctionID)+"/live")
	if err != nil {
		return nil, fmt.Errorf("failed to get live state for %s: %w", auctionID, err)
	}

	var state LiveState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal live state: %w", err)
	}
	return &state, nil
}

// SubmitBid places a bid on an auction. A *ServerError return carries the
// service's business-rule refusal verbatim; any other error is transport.
func (c *Client) SubmitBid(ctx context.Context, auctionID string, amount int64) (*BidReceipt, error) {
	payload, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bid: %w", err)
	}

	body, err := c.post(ctx, "/api/auctions/"+url.PathEscape(auctionID)+"/bids", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var receipt BidReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bid receipt: %w", err)
	}
	return &receipt, nil
}

// CloseAuction ends an auction early. The service enforces that only the host
// may close; the engine only gates by role client-side.
func (c *Client) CloseAuction(ctx context.Context, auctionID string) error {
	if _, err := c.post(ctx, "/api/auctions/"+url.PathEscape(auctionID)+"/close", nil); err != nil {
		return err
	}
	return nil
}

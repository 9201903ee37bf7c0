// Package bidgate validates and serializes outgoing bid submissions. It is
// the only path a bid may leave the client on, and it never mutates room
// state: the authoritative result arrives back over the room channel.
package bidgate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
)

// Gate preconditions, in check order.
var (
	ErrAuctionClosed = errors.New("auction is closed")
	ErrHostForbidden = errors.New("host cannot bid on own auction")
	ErrBidTooLow     = errors.New("bid below current high bid plus minimum increment")
	ErrInFlight      = errors.New("another bid is already in flight")
)

// RoomView is the slice of room state the gate checks a bid against.
type RoomView struct {
	AuctionID    string
	HostID       string
	HighBid      int64
	MinIncrement int64
	Closed       bool
}

// StateFunc returns a fresh room view at check time.
type StateFunc func() RoomView

// Submitter defines what the gate needs from the auction API.
type Submitter interface {
	SubmitBid(ctx context.Context, auctionID string, amount int64) (*auctionapi.BidReceipt, error)
}

// Gate single-flights bid submissions for one room and one viewer. A second
// attempt while one is pending is rejected immediately, never queued.
type Gate struct {
	viewerID string
	state    StateFunc
	api      Submitter

	mu       sync.Mutex
	inFlight bool
}

func New(viewerID string, state StateFunc, api Submitter) *Gate {
	return &Gate{viewerID: viewerID, state: state, api: api}
}

// InFlight reports whether a submission is currently pending, so callers can
// render a pending state without the gate ever speculating about the outcome.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// AttemptBid checks every precondition against the current room view and, if
// all pass, issues exactly one submit call. nil means the server acknowledged
// the bid; the confirmed amount still arrives asynchronously as a bid_update.
func (g *Gate) AttemptBid(ctx context.Context, amount int64) error {
	view := g.state()

	if view.Closed {
		return ErrAuctionClosed
	}
	if view.HostID != "" && g.viewerID == view.HostID {
		return ErrHostForbidden
	}
	if minimum := view.HighBid + view.MinIncrement; amount < minimum {
		return fmt.Errorf("%w: minimum is %d, got %d", ErrBidTooLow, minimum, amount)
	}

	g.mu.Lock()
	if g.inFlight {
		g.mu.Unlock()
		return ErrInFlight
	}
	g.inFlight = true
	g.mu.Unlock()

	// Release on completion regardless of outcome, so a lost confirmation
	// can never wedge the gate.
	defer func() {
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	}()

	log.Debug().
		Str("auction_id", view.AuctionID).
		Int64("amount", amount).
		Msg("submitting bid")

	if _, err := g.api.SubmitBid(ctx, view.AuctionID, amount); err != nil {
		var serverErr *auctionapi.ServerError
		if errors.As(err, &serverErr) {
			return fmt.Errorf("bid rejected: %w", serverErr)
		}
		return fmt.Errorf("bid submission failed: %w", err)
	}
	return nil
}

// Reason maps a gate error to a stable reason code for display.
func Reason(err error) string {
	var serverErr *auctionapi.ServerError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuctionClosed):
		return "auction_closed"
	case errors.Is(err, ErrHostForbidden):
		return "role_forbidden"
	case errors.Is(err, ErrBidTooLow):
		return "validation_failed"
	case errors.Is(err, ErrInFlight):
		return "in_flight"
	case errors.As(err, &serverErr):
		return "server_rejected"
	default:
		return "network_failure"
	}
}

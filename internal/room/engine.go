package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/bidgate"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/connection"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/countdown"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

// ErrNotHost is returned when a non-host viewer tries to close the auction.
var ErrNotHost = errors.New("only the host may close the auction")

// Config describes one room session for one viewer.
type Config struct {
	APIBaseURL string
	SocketURL  string
	AuctionID  string
	ViewerID   string
	Credential string // short-lived bearer token, used for REST and the socket handshake
}

// Engine drives one viewer's session in one auction room: it seeds state over
// REST, keeps it reconciled against the push channel, predicts the countdown
// between authoritative ticks, and gates outgoing bids. One Engine per room;
// concurrent rooms need independent Engines.
type Engine struct {
	cfg   Config
	clock clockwork.Clock

	api       *auctionapi.Client
	predictor *countdown.Predictor
	rec       *reconciler
	gate      *bidgate.Gate
	conn      *connection.Manager

	mu      sync.Mutex
	meta    auctionapi.Auction
	opened  bool
	roomCtx context.Context
	cancel  context.CancelFunc
}

func NewEngine(cfg Config, clock clockwork.Clock) *Engine {
	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		api:       auctionapi.NewClient(cfg.APIBaseURL, cfg.Credential),
		predictor: countdown.New(clock),
	}
	e.rec = newReconciler(cfg.AuctionID, cfg.ViewerID, e.predictor)
	e.gate = bidgate.New(cfg.ViewerID, e.roomView, e.api)
	e.conn = connection.New(
		connection.DefaultConfig(cfg.SocketURL, cfg.AuctionID, cfg.Credential),
		engineSink{e},
		clock,
	)
	return e
}

// roomView feeds the bid gate a fresh view at check time.
func (e *Engine) roomView() bidgate.RoomView {
	e.mu.Lock()
	meta := e.meta
	e.mu.Unlock()
	snap := e.rec.snapshot()
	return bidgate.RoomView{
		AuctionID:    e.cfg.AuctionID,
		HostID:       meta.SellerID,
		HighBid:      snap.HighBid,
		MinIncrement: meta.MinIncrement,
		Closed:       snap.Closed,
	}
}

// Open seeds the room and brings the push channel up. Auction metadata is
// required; without it there is no room to show. The live-state fetch is best
// effort: on failure the room opens degraded with zeroed social-proof fields.
// The room stays alive until ctx is cancelled or Leave is called.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	if e.opened {
		e.mu.Unlock()
		return errors.New("room already open")
	}
	e.opened = true
	e.mu.Unlock()

	meta, err := e.api.AuctionMetadata(ctx, e.cfg.AuctionID)
	if err != nil {
		e.mu.Lock()
		e.opened = false
		e.mu.Unlock()
		return fmt.Errorf("fetch auction metadata: %w", err)
	}

	live, err := e.api.LiveState(ctx, e.cfg.AuctionID)
	if err != nil {
		log.Warn().Err(err).
			Str("auction_id", e.cfg.AuctionID).
			Msg("live state fetch failed, opening room degraded")
		live = nil
	}

	roomCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.meta = *meta
	e.roomCtx = roomCtx
	e.cancel = cancel
	e.mu.Unlock()

	// Seed before the loop starts so the first published snapshot is already
	// complete when connection events begin to land.
	e.rec.apply(seedMsg{meta: *meta, live: live})
	e.rec.publish()

	go e.rec.run(roomCtx)
	go e.predictor.Run(roomCtx, func(seconds int64, gen uint64) {
		e.rec.enqueue(tickMsg{seconds: seconds, gen: gen})
	})

	if err := e.conn.Start(roomCtx); err != nil {
		cancel()
		e.mu.Lock()
		e.opened = false
		e.mu.Unlock()
		return fmt.Errorf("start room connection: %w", err)
	}

	log.Info().
		Str("auction_id", e.cfg.AuctionID).
		Str("title", meta.Title).
		Msg("room opened")
	return nil
}

// PlaceBid submits a bid through the gate. State is never mutated
// optimistically; the authoritative outcome arrives later as a bid_update.
// A submission already on the wire is not cancelled by room teardown, so the
// server's decision stays unambiguous.
func (e *Engine) PlaceBid(ctx context.Context, amount int64) error {
	return e.gate.AttemptBid(context.WithoutCancel(ctx), amount)
}

// BidPending reports whether a bid submission is currently in flight.
func (e *Engine) BidPending() bool {
	return e.gate.InFlight()
}

// SendChat pushes a chat message over the room channel.
func (e *Engine) SendChat(text string) error {
	return e.conn.SendChat(text)
}

// CloseAuction asks the server to end the auction. Host only; the engine
// gates by role and leaves the business decision to the server.
func (e *Engine) CloseAuction(ctx context.Context) error {
	e.mu.Lock()
	host := e.meta.SellerID
	e.mu.Unlock()
	if e.cfg.ViewerID != host {
		return ErrNotHost
	}
	if err := e.api.CloseAuction(ctx, e.cfg.AuctionID); err != nil {
		return fmt.Errorf("close auction: %w", err)
	}
	return nil
}

// MyBids lists the viewer's bids, reduced to the most recent bid per auction.
func (e *Engine) MyBids(ctx context.Context) ([]auctionapi.UserBid, error) {
	bids, err := e.api.UserBids(ctx, e.cfg.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("fetch user bids: %w", err)
	}
	return auctionapi.LatestPerAuction(bids), nil
}

// Snapshot returns a copy of the current room state.
func (e *Engine) Snapshot() State {
	return e.rec.snapshot()
}

// Subscribe returns a channel of room snapshots, one per state change, plus a
// cancel func. Slow consumers lose intermediate frames, never block the room.
func (e *Engine) Subscribe() (<-chan State, func()) {
	return e.rec.subscribe()
}

// Leave notifies the server best effort, tears the connection down, and stops
// the room goroutines. Idempotent.
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}

	err := e.conn.Leave(ctx)
	cancel()
	log.Info().Str("auction_id", e.cfg.AuctionID).Msg("room left")
	return err
}

// onRejoined refreshes the seed after a reconnect. Events buffered by the
// server during the drop are not replayed, so the REST live state is the only
// way back to a trustworthy baseline beyond the joined_room snapshot.
func (e *Engine) onRejoined() {
	e.mu.Lock()
	meta := e.meta
	roomCtx := e.roomCtx
	e.mu.Unlock()

	log.Info().
		Str("auction_id", e.cfg.AuctionID).
		Msg("rejoined room, refreshing live state")

	go func() {
		ctx, cancel := context.WithTimeout(roomCtx, 10*time.Second)
		defer cancel()
		live, err := e.api.LiveState(ctx, e.cfg.AuctionID)
		if err != nil {
			log.Warn().Err(err).
				Str("auction_id", e.cfg.AuctionID).
				Msg("post-rejoin live state refresh failed")
			return
		}
		e.rec.enqueue(seedMsg{meta: meta, live: live})
	}()
}

// engineSink adapts the connection manager's callbacks onto the reconciler
// inbox. Everything is an enqueue; nothing blocks the read pump.
type engineSink struct{ e *Engine }

func (s engineSink) InboundEvent(env events.Envelope) {
	s.e.rec.enqueue(inboundMsg{env: env})
}

func (s engineSink) StateChange(st connection.State) {
	s.e.rec.enqueue(statusMsg{status: statusFor(st)})
}

func (s engineSink) Rejoined() {
	s.e.onRejoined()
}

// statusFor maps connection lifecycle states onto the user-facing room
// status. Automatic retry after a drop reads as connecting, not as a
// terminal failure.
func statusFor(s connection.State) Status {
	switch s {
	case connection.StateJoined:
		return StatusConnected
	case connection.StateConnecting, connection.StateDisconnected:
		return StatusConnecting
	case connection.StateFailed:
		return StatusError
	default:
		return StatusDisconnected
	}
}

package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/alias"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/countdown"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

// msg is one unit of work for the reconciler loop. Every source of room
// mutation enqueues a msg; nothing touches State directly.
type msg interface{ isMsg() }

// seedMsg carries the REST snapshot taken at room open or after a rejoin.
// A nil live state means the live fetch failed and the room opens degraded.
type seedMsg struct {
	meta auctionapi.Auction
	live *auctionapi.LiveState
}

// inboundMsg carries one envelope received over the persistent channel.
type inboundMsg struct{ env events.Envelope }

// tickMsg carries one locally predicted countdown value and the timer
// generation it was computed under.
type tickMsg struct {
	seconds int64
	gen     uint64
}

// statusMsg carries a connection status transition.
type statusMsg struct{ status Status }

func (seedMsg) isMsg()    {}
func (inboundMsg) isMsg() {}
func (tickMsg) isMsg()    {}
func (statusMsg) isMsg()  {}

// reconciler owns the room State. One goroutine runs the loop; all other
// goroutines interact through enqueue, snapshot, and subscribe.
type reconciler struct {
	viewerID  string
	auctionID string
	predictor *countdown.Predictor

	inbox chan msg
	done  chan struct{}

	// loop-owned, never touched outside run/apply
	st       State
	timerGen uint64
	seeded   bool

	current atomic.Value // State

	mu   sync.Mutex
	subs map[chan State]struct{}
}

func newReconciler(auctionID, viewerID string, predictor *countdown.Predictor) *reconciler {
	r := &reconciler{
		viewerID:  viewerID,
		auctionID: auctionID,
		predictor: predictor,
		inbox:     make(chan msg, 256),
		done:      make(chan struct{}),
		subs:      make(map[chan State]struct{}),
	}
	r.st.AuctionID = auctionID
	r.st.Status = StatusDisconnected
	r.current.Store(r.st.Clone())
	return r
}

// enqueue delivers a msg to the loop. Once the loop has exited, msgs are
// dropped so producers (read pump, ticker) never stall during teardown.
func (r *reconciler) enqueue(m msg) {
	select {
	case r.inbox <- m:
	case <-r.done:
	}
}

func (r *reconciler) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued, typically the final
			// connection status, so the last snapshot reflects teardown.
			for {
				select {
				case m := <-r.inbox:
					r.apply(m)
					r.publish()
				default:
					return
				}
			}
		case m := <-r.inbox:
			r.apply(m)
			r.publish()
		}
	}
}

func (r *reconciler) apply(m msg) {
	switch m := m.(type) {
	case seedMsg:
		r.applySeed(m)
	case inboundMsg:
		r.applyEnvelope(m.env)
	case tickMsg:
		r.applyTick(m.seconds, m.gen)
	case statusMsg:
		r.st.Status = m.status
	}
}

func (r *reconciler) applyEnvelope(env events.Envelope) {
	payload, err := events.ParsePayload(&env)
	if err != nil {
		log.Warn().Err(err).
			Str("event", string(env.Type)).
			Str("auction_id", r.auctionID).
			Msg("dropping malformed room event")
		return
	}

	switch p := payload.(type) {
	case events.RoomSnapshotPayload:
		r.applyServerSnapshot(p)
	case events.BidUpdatePayload:
		r.applyBidUpdate(p)
	case events.ChatMessagePayload:
		r.applyChat(p)
	case events.TimerUpdatePayload:
		r.applyTimerUpdate(p)
	case events.RoomEndedPayload:
		r.close(p.Reason)
	case events.ParticipantPayload:
		r.applyParticipant(p, env.Type == events.TypeParticipantJoined)
	case nil:
		log.Debug().Str("event", string(env.Type)).Msg("ignoring unknown room event")
	}
}

// applySeed populates the room from the REST snapshot. The initial seed sets
// the starting bid as the price floor; a re-seed after reconnect goes through
// the same regression guards as any authoritative update.
func (r *reconciler) applySeed(m seedMsg) {
	r.st.AuctionID = m.meta.ID
	r.st.Title = m.meta.Title
	if !r.seeded {
		r.st.HighBid = m.meta.StartingBid
	}
	r.seeded = true

	closedIncoming := m.meta.Status == auctionapi.StatusEnded

	if m.live == nil {
		log.Warn().
			Str("auction_id", r.auctionID).
			Msg("live state unavailable, opening room with metadata only")
		if closedIncoming || r.st.Closed {
			r.close("")
		}
		return
	}

	r.replaceBidFields(m.live.HighBid, m.live.HighBidderID, m.live.TopBids, m.live.ParticipantCount)
	r.st.TimeRemainingLabel = m.live.TimeRemaining
	if m.live.Closed || closedIncoming || r.st.Closed {
		r.close("")
		return
	}
	if m.live.TimeRemainingSeconds != nil {
		r.applyAuthoritativeTimer(*m.live.TimeRemainingSeconds)
	}
}

// applyServerSnapshot applies a joined_room snapshot, the fresh baseline
// after every (re)join.
func (r *reconciler) applyServerSnapshot(p events.RoomSnapshotPayload) {
	r.seeded = true
	r.replaceBidFields(p.HighBid, p.HighBidderID, p.TopBids, p.ParticipantCount)
	if p.Closed || r.st.Closed {
		r.close("")
		return
	}
	if p.TimeRemainingSeconds != nil {
		r.applyAuthoritativeTimer(*p.TimeRemainingSeconds)
	}
}

func (r *reconciler) applyBidUpdate(p events.BidUpdatePayload) {
	if r.st.Closed {
		log.Debug().Str("auction_id", r.auctionID).Msg("ignoring bid update after close")
		return
	}
	r.replaceBidFields(p.HighBid, p.HighBidderID, p.TopBids, p.ParticipantCount)
}

// replaceBidFields performs the full replace of the bid-related fields.
// A regressive high bid marks the whole update as stale and discards it.
func (r *reconciler) replaceBidFields(highBid int64, bidderID string, top []events.TopBid, participants int) {
	if highBid < r.st.HighBid {
		log.Warn().
			Int64("current_high_bid", r.st.HighBid).
			Int64("event_high_bid", highBid).
			Str("auction_id", r.auctionID).
			Msg("discarding regressive high bid")
		return
	}

	r.st.HighBid = highBid
	r.st.HighBidderID = bidderID
	r.st.HighBidderAlias = r.labelFor(bidderID)

	bids := make([]BidEntry, 0, len(top))
	for _, tb := range top {
		bids = append(bids, BidEntry{
			BidderID:     tb.UserID,
			DisplayAlias: r.labelFor(tb.UserID),
			Amount:       tb.Amount,
			PlacedLabel:  placedLabel(tb.PlacedAtMS),
		})
	}
	r.st.RecentBids = bids

	if participants < 0 {
		participants = 0
	}
	r.st.ParticipantCount = participants
}

func (r *reconciler) applyChat(p events.ChatMessagePayload) {
	r.st.ChatLog = append(r.st.ChatLog, ChatEntry{
		AuthorID:        p.AuthorID,
		DisplayAlias:    r.labelFor(p.AuthorID),
		Text:            p.Text,
		TimestampMillis: p.TimestampMS,
	})
}

func (r *reconciler) applyTimerUpdate(p events.TimerUpdatePayload) {
	if r.st.Closed {
		log.Debug().Str("auction_id", r.auctionID).Msg("ignoring timer update after close")
		return
	}
	seconds, ok := p.Seconds()
	if !ok {
		log.Warn().Str("auction_id", r.auctionID).Msg("dropping timer update with no remaining value")
		return
	}
	r.applyAuthoritativeTimer(seconds)
}

func (r *reconciler) applyAuthoritativeTimer(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	r.timerGen = r.predictor.SetAuthoritative(seconds)
	v := seconds
	r.st.TimeRemaining = &v
}

// applyTick lands a locally predicted value. Ticks computed under a stale
// timer generation lost the race with an authoritative update and are dropped.
func (r *reconciler) applyTick(seconds int64, gen uint64) {
	if r.st.Closed || gen != r.timerGen {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	v := seconds
	r.st.TimeRemaining = &v
}

func (r *reconciler) applyParticipant(p events.ParticipantPayload, joined bool) {
	if p.ParticipantCount != nil {
		n := *p.ParticipantCount
		if n < 0 {
			n = 0
		}
		r.st.ParticipantCount = n
		return
	}
	if joined {
		r.st.ParticipantCount++
	} else if r.st.ParticipantCount > 0 {
		r.st.ParticipantCount--
	}
}

// close marks the room ended. Irreversible; pins the countdown at zero.
func (r *reconciler) close(reason string) {
	if !r.st.Closed {
		log.Info().
			Str("auction_id", r.auctionID).
			Str("reason", reason).
			Msg("room closed")
	}
	r.st.Closed = true
	zero := int64(0)
	r.st.TimeRemaining = &zero
	r.timerGen = r.predictor.SetAuthoritative(0)
}

func (r *reconciler) labelFor(userID string) string {
	switch userID {
	case "":
		return ""
	case r.viewerID:
		return "You"
	}
	return alias.Label(r.auctionID, userID)
}

func placedLabel(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

// publish stores the post-apply snapshot and fans it out. A slow subscriber
// loses intermediate frames rather than blocking the loop.
func (r *reconciler) publish() {
	snap := r.st.Clone()
	r.current.Store(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- snap.Clone():
		default:
		}
	}
}

func (r *reconciler) snapshot() State {
	return r.current.Load().(State).Clone()
}

func (r *reconciler) subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

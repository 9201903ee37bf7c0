package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/alias"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/countdown"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

func newTestReconciler(viewerID string) *reconciler {
	return newReconciler("a1", viewerID, countdown.New(clockwork.NewFakeClock()))
}

func envOf(t *testing.T, typ events.Type, payload interface{}) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.Envelope{ID: "ev-1", Type: typ, AuctionID: "a1", Data: raw}
}

func seconds(v int64) *int64 { return &v }

func seedOpen(t *testing.T, r *reconciler) {
	t.Helper()
	r.apply(seedMsg{
		meta: auctionapi.Auction{
			ID: "a1", Title: "Vintage Synth", SellerID: "host-1",
			StartingBid: 1000, MinIncrement: 100, Status: auctionapi.StatusOpen,
		},
		live: &auctionapi.LiveState{
			HighBid:              1000,
			ParticipantCount:     3,
			TimeRemainingSeconds: seconds(60),
		},
	})
}

func TestHighBidIsMonotonic(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids:          []events.TopBid{{UserID: "u1", Amount: 1200}},
		BidCount:         1,
		ParticipantCount: 4,
	})})
	if r.st.HighBid != 1200 || r.st.HighBidderID != "u1" {
		t.Fatalf("after bid update: high bid = %d by %q, want 1200 by u1", r.st.HighBid, r.st.HighBidderID)
	}

	before := r.st.Clone()
	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 900, HighBidderID: "u9",
		TopBids:          []events.TopBid{{UserID: "u9", Amount: 900}},
		ParticipantCount: 9,
	})})

	if r.st.HighBid != before.HighBid || r.st.HighBidderID != before.HighBidderID {
		t.Errorf("regressive update changed high bid: got %d by %q", r.st.HighBid, r.st.HighBidderID)
	}
	if len(r.st.RecentBids) != len(before.RecentBids) || r.st.ParticipantCount != before.ParticipantCount {
		t.Error("regressive update must discard the whole event, not parts of it")
	}
}

func TestBidUpdateIsIdempotent(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	update := envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids:          []events.TopBid{{UserID: "u1", Amount: 1200}},
		BidCount:         1,
		ParticipantCount: 4,
	})
	r.apply(inboundMsg{env: update})
	first := r.st.Clone()
	r.apply(inboundMsg{env: update})

	if r.st.HighBid != first.HighBid || len(r.st.RecentBids) != len(first.RecentBids) {
		t.Errorf("re-applying the same update changed state: %d bids, high %d", len(r.st.RecentBids), r.st.HighBid)
	}
}

func TestBidUpdateResolvesAliases(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids:          []events.TopBid{{UserID: "u1", Amount: 1200}, {UserID: "viewer-1", Amount: 1100}},
		ParticipantCount: 4,
	})})

	if want := alias.Label("a1", "u1"); r.st.RecentBids[0].DisplayAlias != want {
		t.Errorf("bidder alias = %q, want %q", r.st.RecentBids[0].DisplayAlias, want)
	}
	if r.st.RecentBids[1].DisplayAlias != "You" {
		t.Errorf("viewer's own bid alias = %q, want You", r.st.RecentBids[1].DisplayAlias)
	}
	if want := alias.Label("a1", "u1"); r.st.HighBidderAlias != want {
		t.Errorf("high bidder alias = %q, want %q", r.st.HighBidderAlias, want)
	}
}

func TestViewerIsHighBidder(t *testing.T) {
	r := newTestReconciler("u1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids: []events.TopBid{{UserID: "u1", Amount: 1200}},
	})})

	if r.st.HighBidderAlias != "You" {
		t.Errorf("high bidder alias for the viewer = %q, want You", r.st.HighBidderAlias)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)
	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids:          []events.TopBid{{UserID: "u1", Amount: 1200}},
		ParticipantCount: 4,
	})})

	r.apply(inboundMsg{env: envOf(t, events.TypeRoomEnded, events.RoomEndedPayload{Reason: "time expired"})})
	if !r.st.Closed {
		t.Fatal("room not closed after room_ended")
	}
	if r.st.TimeRemaining == nil || *r.st.TimeRemaining != 0 {
		t.Fatal("countdown not pinned at zero after close")
	}

	closed := r.st.Clone()
	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 5000, HighBidderID: "u7",
		TopBids: []events.TopBid{{UserID: "u7", Amount: 5000}},
	})})
	r.apply(inboundMsg{env: envOf(t, events.TypeTimerUpdate, events.TimerUpdatePayload{SecondsRemaining: seconds(40)})})

	if r.st.HighBid != closed.HighBid {
		t.Errorf("bid update after close mutated high bid: %d", r.st.HighBid)
	}
	if *r.st.TimeRemaining != 0 {
		t.Errorf("timer update after close mutated countdown: %d", *r.st.TimeRemaining)
	}
}

func TestChatStillAppendsAfterClose(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)
	r.apply(inboundMsg{env: envOf(t, events.TypeRoomEnded, events.RoomEndedPayload{})})

	r.apply(inboundMsg{env: envOf(t, events.TypeChatMessage, events.ChatMessagePayload{
		AuthorID: "u2", Text: "congrats!", TimestampMS: 1700000000000,
	})})

	if len(r.st.ChatLog) != 1 {
		t.Fatalf("chat log length = %d, want 1", len(r.st.ChatLog))
	}
	if want := alias.Label("a1", "u2"); r.st.ChatLog[0].DisplayAlias != want {
		t.Errorf("chat alias = %q, want %q", r.st.ChatLog[0].DisplayAlias, want)
	}
}

func TestStalePredictedTickIsDropped(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeTimerUpdate, events.TimerUpdatePayload{SecondsRemaining: seconds(60)})})
	staleGen := r.timerGen
	r.apply(tickMsg{seconds: 55, gen: staleGen})
	if *r.st.TimeRemaining != 55 {
		t.Fatalf("current-generation tick not applied: %d", *r.st.TimeRemaining)
	}

	r.apply(inboundMsg{env: envOf(t, events.TypeTimerUpdate, events.TimerUpdatePayload{SecondsRemaining: seconds(30)})})
	r.apply(tickMsg{seconds: 54, gen: staleGen})
	if *r.st.TimeRemaining != 30 {
		t.Errorf("stale tick overwrote authoritative value: %d, want 30", *r.st.TimeRemaining)
	}

	r.apply(tickMsg{seconds: 29, gen: r.timerGen})
	if *r.st.TimeRemaining != 29 {
		t.Errorf("fresh tick not applied: %d, want 29", *r.st.TimeRemaining)
	}
}

func TestTimerNeverGoesNegative(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeTimerUpdate, events.TimerUpdatePayload{SecondsRemaining: seconds(10)})})
	r.apply(tickMsg{seconds: -2, gen: r.timerGen})

	if *r.st.TimeRemaining != 0 {
		t.Errorf("time remaining = %d, want clamp at 0", *r.st.TimeRemaining)
	}
}

func TestDegradedSeedDefaults(t *testing.T) {
	r := newTestReconciler("viewer-1")
	r.apply(seedMsg{
		meta: auctionapi.Auction{
			ID: "a1", Title: "Vintage Synth", SellerID: "host-1",
			StartingBid: 1000, MinIncrement: 100, Status: auctionapi.StatusOpen,
		},
		live: nil,
	})

	if r.st.HighBid != 1000 {
		t.Errorf("degraded seed high bid = %d, want starting bid 1000", r.st.HighBid)
	}
	if r.st.ParticipantCount != 0 || len(r.st.RecentBids) != 0 {
		t.Error("degraded seed must zero the social-proof fields")
	}
	if r.st.TimeRemaining != nil {
		t.Errorf("degraded seed time remaining = %d, want unknown", *r.st.TimeRemaining)
	}
	if r.st.Closed {
		t.Error("degraded seed of an open auction must not close the room")
	}
}

func TestSeedKeepsTimerUnknownDistinctFromZero(t *testing.T) {
	r := newTestReconciler("viewer-1")
	r.apply(seedMsg{
		meta: auctionapi.Auction{ID: "a1", StartingBid: 1000, Status: auctionapi.StatusOpen},
		live: &auctionapi.LiveState{HighBid: 1000, TimeRemaining: "about a minute"},
	})

	if r.st.TimeRemaining != nil {
		t.Fatal("numeric time remaining should stay unknown when the server omits it")
	}
	if r.st.TimeRemainingLabel != "about a minute" {
		t.Errorf("fallback label = %q", r.st.TimeRemainingLabel)
	}
}

func TestReseedGuardsRegression(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)
	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1500, HighBidderID: "u1",
		TopBids:          []events.TopBid{{UserID: "u1", Amount: 1500}},
		ParticipantCount: 4,
	})})

	// A stale snapshot re-delivered after reconnect must not roll state back.
	r.apply(seedMsg{
		meta: auctionapi.Auction{ID: "a1", StartingBid: 1000, Status: auctionapi.StatusOpen},
		live: &auctionapi.LiveState{HighBid: 1200, HighBidderID: "u0", ParticipantCount: 2},
	})

	if r.st.HighBid != 1500 || r.st.HighBidderID != "u1" {
		t.Errorf("stale reseed rolled back high bid: %d by %q", r.st.HighBid, r.st.HighBidderID)
	}
}

func TestJoinedRoomSnapshotRefreshes(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	r.apply(inboundMsg{env: envOf(t, events.TypeJoinedRoom, events.RoomSnapshotPayload{
		AuctionID: "a1", HighBid: 1300, HighBidderID: "u2",
		TopBids:              []events.TopBid{{UserID: "u2", Amount: 1300}},
		ParticipantCount:     6,
		TimeRemainingSeconds: seconds(45),
	})})

	if r.st.HighBid != 1300 || r.st.ParticipantCount != 6 {
		t.Errorf("snapshot refresh not applied: high %d, participants %d", r.st.HighBid, r.st.ParticipantCount)
	}
	if *r.st.TimeRemaining != 45 {
		t.Errorf("snapshot timer = %d, want 45", *r.st.TimeRemaining)
	}
}

func TestParticipantEvents(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)

	count := 7
	r.apply(inboundMsg{env: envOf(t, events.TypeParticipantJoined, events.ParticipantPayload{
		UserID: "u5", ParticipantCount: &count,
	})})
	if r.st.ParticipantCount != 7 {
		t.Errorf("explicit count not applied: %d", r.st.ParticipantCount)
	}

	r.apply(inboundMsg{env: envOf(t, events.TypeParticipantLeft, events.ParticipantPayload{UserID: "u5"})})
	if r.st.ParticipantCount != 6 {
		t.Errorf("decrement not applied: %d", r.st.ParticipantCount)
	}

	zero := 0
	r.apply(inboundMsg{env: envOf(t, events.TypeParticipantLeft, events.ParticipantPayload{
		UserID: "u6", ParticipantCount: &zero,
	})})
	r.apply(inboundMsg{env: envOf(t, events.TypeParticipantLeft, events.ParticipantPayload{UserID: "u7"})})
	if r.st.ParticipantCount != 0 {
		t.Errorf("count went negative: %d", r.st.ParticipantCount)
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)
	before := r.st.Clone()

	r.apply(inboundMsg{env: events.Envelope{ID: "x", Type: "auction_featured", Data: json.RawMessage(`{"v":1}`)}})

	if r.st.HighBid != before.HighBid || len(r.st.ChatLog) != len(before.ChatLog) {
		t.Error("unknown event type mutated state")
	}
}

func TestLoopPublishesToSubscribers(t *testing.T) {
	r := newTestReconciler("viewer-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.run(ctx)

	ch, unsubscribe := r.subscribe()
	defer unsubscribe()

	r.enqueue(seedMsg{
		meta: auctionapi.Auction{ID: "a1", Title: "Vintage Synth", StartingBid: 1000, Status: auctionapi.StatusOpen},
		live: &auctionapi.LiveState{HighBid: 1000, ParticipantCount: 3},
	})

	select {
	case snap := <-ch:
		if snap.HighBid != 1000 || snap.Title != "Vintage Synth" {
			t.Errorf("published snapshot = high %d title %q", snap.HighBid, snap.Title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published after seed")
	}

	if got := r.snapshot(); got.HighBid != 1000 {
		t.Errorf("snapshot accessor high bid = %d", got.HighBid)
	}
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	r := newTestReconciler("viewer-1")
	seedOpen(t, r)
	r.apply(inboundMsg{env: envOf(t, events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid: 1200, HighBidderID: "u1",
		TopBids: []events.TopBid{{UserID: "u1", Amount: 1200}},
	})})
	r.publish()

	snap := r.snapshot()
	snap.RecentBids[0].Amount = 1
	snap.HighBid = 1

	if again := r.snapshot(); again.HighBid != 1200 || again.RecentBids[0].Amount != 1200 {
		t.Error("mutating a snapshot leaked into the room state")
	}
}

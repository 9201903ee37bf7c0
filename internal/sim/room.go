package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

const maxTopBids = 10

// timerPushEvery is how often the room pushes an authoritative timer_update.
// Clients are expected to predict locally in between.
const timerPushEvery = 5

// roomCmd is one unit of work for a room's actor loop.
type roomCmd interface{ isRoomCmd() }

type joinCmd struct{ c *client }
type leaveCmd struct{ c *client }

type bidCmd struct {
	userID string
	amount int64
	reply  chan bidResult
}

type bidResult struct {
	receipt auctionapi.BidReceipt
	reject  string // non-empty = business-rule rejection
}

type chatCmd struct {
	userID string
	text   string
}

type closeCmd struct {
	userID string
	reply  chan string // rejection message, empty = closed
}

type snapshotCmd struct {
	reply chan roomSnapshot
}

type roomSnapshot struct {
	meta auctionapi.Auction
	live auctionapi.LiveState
}

func (joinCmd) isRoomCmd()     {}
func (leaveCmd) isRoomCmd()    {}
func (bidCmd) isRoomCmd()      {}
func (chatCmd) isRoomCmd()     {}
func (closeCmd) isRoomCmd()    {}
func (snapshotCmd) isRoomCmd() {}

// auctionRoom is one authoritative auction: a single goroutine owns all of
// its state and processes commands and the countdown in arrival order.
type auctionRoom struct {
	clock     clockwork.Clock
	inbox     chan roomCmd
	ctx       context.Context
	done      chan struct{}
	recordBid func(userID string, bid auctionapi.UserBid)

	// loop-owned
	meta         auctionapi.Auction
	highBid      int64
	highBidderID string
	topBids      []events.TopBid
	bidCount     int
	remaining    int64
	closed       bool
	clients      map[*client]struct{}
}

func newAuctionRoom(ctx context.Context, clock clockwork.Clock, spec AuctionSpec, recordBid func(string, auctionapi.UserBid)) *auctionRoom {
	minIncrement := spec.MinIncrement
	if minIncrement <= 0 {
		minIncrement = 1
	}
	endsAt := clock.Now().Add(time.Duration(spec.DurationSeconds) * time.Second)

	rm := &auctionRoom{
		clock:     clock,
		inbox:     make(chan roomCmd, 64),
		ctx:       ctx,
		done:      make(chan struct{}),
		recordBid: recordBid,
		meta: auctionapi.Auction{
			ID:           spec.ID,
			Title:        spec.Title,
			SellerID:     spec.SellerID,
			StartingBid:  spec.StartingBid,
			MinIncrement: minIncrement,
			Status:       auctionapi.StatusOpen,
			EndsAt:       &endsAt,
		},
		highBid:   spec.StartingBid,
		remaining: spec.DurationSeconds,
		clients:   make(map[*client]struct{}),
	}
	go rm.run()
	return rm
}

func (rm *auctionRoom) run() {
	ticker := rm.clock.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(rm.done)

	for {
		select {
		case <-rm.ctx.Done():
			for c := range rm.clients {
				rm.evict(c)
			}
			// Refuse whatever is already queued so no requester is left
			// waiting on a reply that will never come.
			for {
				select {
				case cmd := <-rm.inbox:
					rm.refuse(cmd)
				default:
					return
				}
			}
		case cmd := <-rm.inbox:
			rm.handle(cmd)
		case <-ticker.Chan():
			rm.tick()
		}
	}
}

// refuse answers a command during shutdown without touching room state.
func (rm *auctionRoom) refuse(cmd roomCmd) {
	switch cmd := cmd.(type) {
	case joinCmd:
		close(cmd.c.send)
	case bidCmd:
		cmd.reply <- bidResult{reject: "room is shutting down"}
	case closeCmd:
		cmd.reply <- "room is shutting down"
	case snapshotCmd:
		cmd.reply <- roomSnapshot{meta: rm.meta, live: rm.liveState()}
	}
}

func (rm *auctionRoom) handle(cmd roomCmd) {
	switch cmd := cmd.(type) {
	case joinCmd:
		rm.handleJoin(cmd.c)
	case leaveCmd:
		rm.handleLeave(cmd.c)
	case bidCmd:
		cmd.reply <- rm.handleBid(cmd.userID, cmd.amount)
	case chatCmd:
		rm.handleChat(cmd.userID, cmd.text)
	case closeCmd:
		cmd.reply <- rm.handleClose(cmd.userID)
	case snapshotCmd:
		cmd.reply <- roomSnapshot{meta: rm.meta, live: rm.liveState()}
	}
}

// tick advances the countdown by one second. Authoritative pushes go out on
// a coarse cadence; the final second always pushes and ends the room.
func (rm *auctionRoom) tick() {
	if rm.closed || rm.remaining <= 0 {
		return
	}
	rm.remaining--
	if rm.remaining <= 0 {
		rm.endRoom("time expired")
		return
	}
	if rm.remaining%timerPushEvery == 0 {
		remaining := rm.remaining
		rm.broadcast(events.TypeTimerUpdate, events.TimerUpdatePayload{
			SecondsRemaining: &remaining,
		})
	}
}

func (rm *auctionRoom) handleJoin(c *client) {
	rm.clients[c] = struct{}{}

	snap := rm.snapshotPayload()
	frame, err := rm.envelope(events.TypeJoinedRoom, snap)
	if err == nil {
		rm.send(c, frame)
	}

	count := len(rm.clients)
	rm.broadcastExcept(c, events.TypeParticipantJoined, events.ParticipantPayload{
		UserID:           c.userID,
		ParticipantCount: &count,
	})
	log.Debug().
		Str("auction_id", rm.meta.ID).
		Str("user_id", c.userID).
		Int("participants", count).
		Msg("client joined room")
}

func (rm *auctionRoom) handleLeave(c *client) {
	if _, ok := rm.clients[c]; !ok {
		return
	}
	rm.evict(c)

	count := len(rm.clients)
	rm.broadcast(events.TypeParticipantLeft, events.ParticipantPayload{
		UserID:           c.userID,
		ParticipantCount: &count,
	})
}

func (rm *auctionRoom) handleBid(userID string, amount int64) bidResult {
	switch {
	case rm.closed:
		return bidResult{reject: "auction is closed"}
	case userID == rm.meta.SellerID:
		return bidResult{reject: "the host cannot bid on their own auction"}
	case amount < rm.highBid+rm.meta.MinIncrement:
		return bidResult{reject: "bid too low: minimum is " + formatAmount(rm.highBid+rm.meta.MinIncrement)}
	}

	now := rm.clock.Now().UnixMilli()
	rm.highBid = amount
	rm.highBidderID = userID
	rm.topBids = append([]events.TopBid{{UserID: userID, Amount: amount, PlacedAtMS: now}}, rm.topBids...)
	if len(rm.topBids) > maxTopBids {
		rm.topBids = rm.topBids[:maxTopBids]
	}
	rm.bidCount++

	if rm.recordBid != nil {
		rm.recordBid(userID, auctionapi.UserBid{
			AuctionID:  rm.meta.ID,
			Amount:     amount,
			PlacedAtMS: now,
		})
	}

	rm.broadcast(events.TypeBidUpdate, events.BidUpdatePayload{
		HighBid:          rm.highBid,
		HighBidderID:     rm.highBidderID,
		TopBids:          rm.topBids,
		BidCount:         rm.bidCount,
		ParticipantCount: len(rm.clients),
	})

	return bidResult{receipt: auctionapi.BidReceipt{Accepted: true, HighBid: rm.highBid}}
}

func (rm *auctionRoom) handleChat(userID, text string) {
	if rm.closed || text == "" {
		return
	}
	rm.broadcast(events.TypeChatMessage, events.ChatMessagePayload{
		AuthorID:    userID,
		Text:        text,
		TimestampMS: rm.clock.Now().UnixMilli(),
	})
}

func (rm *auctionRoom) handleClose(userID string) string {
	if userID != rm.meta.SellerID {
		return "only the host may close the auction"
	}
	if rm.closed {
		return "auction is already closed"
	}
	rm.endRoom("closed by host")
	return ""
}

func (rm *auctionRoom) endRoom(reason string) {
	rm.closed = true
	rm.remaining = 0
	rm.meta.Status = auctionapi.StatusEnded
	rm.broadcast(events.TypeRoomEnded, events.RoomEndedPayload{Reason: reason})
	log.Info().
		Str("auction_id", rm.meta.ID).
		Str("reason", reason).
		Int64("final_high_bid", rm.highBid).
		Msg("auction ended")
}

func (rm *auctionRoom) liveState() auctionapi.LiveState {
	remaining := rm.remaining
	return auctionapi.LiveState{
		HighBid:              rm.highBid,
		HighBidderID:         rm.highBidderID,
		TopBids:              append([]events.TopBid(nil), rm.topBids...),
		BidCount:             rm.bidCount,
		ParticipantCount:     len(rm.clients),
		TimeRemainingSeconds: &remaining,
		TimeRemaining:        formatRemaining(remaining),
		Closed:               rm.closed,
	}
}

func (rm *auctionRoom) snapshotPayload() events.RoomSnapshotPayload {
	remaining := rm.remaining
	return events.RoomSnapshotPayload{
		AuctionID:            rm.meta.ID,
		HighBid:              rm.highBid,
		HighBidderID:         rm.highBidderID,
		TopBids:              append([]events.TopBid(nil), rm.topBids...),
		BidCount:             rm.bidCount,
		ParticipantCount:     len(rm.clients),
		TimeRemainingSeconds: &remaining,
		Closed:               rm.closed,
	}
}

func (rm *auctionRoom) envelope(t events.Type, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		AuctionID: rm.meta.ID,
		Timestamp: rm.clock.Now().UnixMilli(),
		Data:      data,
	})
}

func (rm *auctionRoom) broadcast(t events.Type, payload interface{}) {
	rm.broadcastExcept(nil, t, payload)
}

func (rm *auctionRoom) broadcastExcept(skip *client, t events.Type, payload interface{}) {
	frame, err := rm.envelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(t)).Msg("encode broadcast")
		return
	}
	for c := range rm.clients {
		if c == skip {
			continue
		}
		rm.send(c, frame)
	}
}

// send queues a frame for one client. A client whose buffer is full is too
// far behind to ever catch up and gets evicted.
func (rm *auctionRoom) send(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Warn().
			Str("auction_id", rm.meta.ID).
			Str("user_id", c.userID).
			Msg("evicting slow room client")
		rm.evict(c)
	}
}

func (rm *auctionRoom) evict(c *client) {
	if _, ok := rm.clients[c]; !ok {
		return
	}
	delete(rm.clients, c)
	close(c.send)
}

// enqueue hands a command to the loop unless the room is shut down.
func (rm *auctionRoom) enqueue(cmd roomCmd) bool {
	select {
	case rm.inbox <- cmd:
		return true
	case <-rm.ctx.Done():
		return false
	}
}

func (rm *auctionRoom) requestJoin(c *client) bool { return rm.enqueue(joinCmd{c: c}) }
func (rm *auctionRoom) requestLeave(c *client)     { rm.enqueue(leaveCmd{c: c}) }

func (rm *auctionRoom) requestChat(userID, text string) {
	rm.enqueue(chatCmd{userID: userID, text: text})
}

func (rm *auctionRoom) submitBid(userID string, amount int64) (bidResult, bool) {
	reply := make(chan bidResult, 1)
	if !rm.enqueue(bidCmd{userID: userID, amount: amount, reply: reply}) {
		return bidResult{}, false
	}
	select {
	case res := <-reply:
		return res, true
	case <-rm.done:
		// The loop may have answered just before exiting.
		select {
		case res := <-reply:
			return res, true
		default:
			return bidResult{}, false
		}
	}
}

func (rm *auctionRoom) closeAuction(userID string) (string, bool) {
	reply := make(chan string, 1)
	if !rm.enqueue(closeCmd{userID: userID, reply: reply}) {
		return "", false
	}
	select {
	case res := <-reply:
		return res, true
	case <-rm.done:
		select {
		case res := <-reply:
			return res, true
		default:
			return "", false
		}
	}
}

func (rm *auctionRoom) snapshot() (roomSnapshot, bool) {
	reply := make(chan roomSnapshot, 1)
	if !rm.enqueue(snapshotCmd{reply: reply}) {
		return roomSnapshot{}, false
	}
	select {
	case res := <-reply:
		return res, true
	case <-rm.done:
		select {
		case res := <-reply:
			return res, true
		default:
			return roomSnapshot{}, false
		}
	}
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatRemaining(seconds int64) string {
	if seconds <= 0 {
		return "ended"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %02ds", seconds/60, seconds%60)
}

package events

// Event payload types shared between the connection, room, and sim packages

// TopBid is one row of the server's recent-bid list, newest first.
type TopBid struct {
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	PlacedAtMS int64  `json:"placed_at_ms,omitempty"`
}

// RoomSnapshotPayload is the payload for a joined_room event. It carries the
// same shape as the live-state fetch so either source can seed the room.
type RoomSnapshotPayload struct {
	AuctionID            string   `json:"auction_id"`
	HighBid              int64    `json:"high_bid"`
	HighBidderID         string   `json:"high_bidder_id,omitempty"`
	TopBids              []TopBid `json:"top_bids"`
	BidCount             int      `json:"bid_count"`
	ParticipantCount     int      `json:"participant_count"`
	TimeRemainingSeconds *int64   `json:"time_remaining_seconds,omitempty"`
	Closed               bool     `json:"closed"`
}

// BidUpdatePayload is the payload for a bid_update event. It replaces the bid
// view wholesale; the server's ordering of top_bids is trusted verbatim.
type BidUpdatePayload struct {
	HighBid          int64    `json:"high_bid"`
	HighBidderID     string   `json:"high_bidder_id"`
	TopBids          []TopBid `json:"top_bids"`
	BidCount         int      `json:"bid_count"`
	ParticipantCount int      `json:"participant_count"`
}

// ChatMessagePayload is the payload for a chat_message event.
type ChatMessagePayload struct {
	AuthorID    string `json:"author_id"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// TimerUpdatePayload is the payload for an authoritative timer_update event.
// Some servers push milliseconds instead of seconds; Seconds normalizes.
type TimerUpdatePayload struct {
	SecondsRemaining *int64 `json:"seconds_remaining,omitempty"`
	MillisRemaining  *int64 `json:"millis_remaining,omitempty"`
}

// Seconds returns the normalized seconds-remaining value. ok is false when
// the payload carried neither form.
func (p TimerUpdatePayload) Seconds() (int64, bool) {
	if p.SecondsRemaining != nil {
		return *p.SecondsRemaining, true
	}
	if p.MillisRemaining != nil {
		return *p.MillisRemaining / 1000, true
	}
	return 0, false
}

// RoomEndedPayload is the payload for a room_ended event.
type RoomEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParticipantPayload is the payload for participant_joined and
// participant_left events. ParticipantCount, when present, is the
// authoritative count after the change.
type ParticipantPayload struct {
	UserID           string `json:"user_id"`
	ParticipantCount *int   `json:"participant_count,omitempty"`
}

// JoinRoomPayload is the client payload for a join_room message.
type JoinRoomPayload struct {
	AuctionID  string `json:"auction_id"`
	Credential string `json:"credential"`
}

// LeaveRoomPayload is the client payload for a leave_room message.
type LeaveRoomPayload struct {
	AuctionID string `json:"auction_id"`
}

// SendChatPayload is the client payload for a send_chat message.
type SendChatPayload struct {
	AuctionID string `json:"auction_id"`
	Text      string `json:"text"`
}

// Package room owns the canonical in-memory view of one open auction room.
// A single reconciler goroutine is the only writer; every other component
// enqueues events and reads immutable snapshots.
package room

// Status is the room's connection status as surfaced to the user.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// BidEntry is one row of the recent-bid list, already resolved for display.
type BidEntry struct {
	BidderID     string
	DisplayAlias string
	Amount       int64
	PlacedLabel  string
}

// ChatEntry is one chat line, already resolved for display.
type ChatEntry struct {
	AuthorID        string
	DisplayAlias    string
	Text            string
	TimestampMillis int64
}

// State is the room view. The reconciler loop owns the live instance; every
// State handed out of this package is a deep copy safe to retain.
type State struct {
	AuctionID          string
	Title              string
	HighBid            int64 // minor currency units
	HighBidderID       string
	HighBidderAlias    string
	RecentBids         []BidEntry // newest first, server ordering
	ParticipantCount   int
	TimeRemaining      *int64 // seconds; nil means unknown, 0 means ended
	TimeRemainingLabel string // pre-formatted fallback, shown only while TimeRemaining is nil
	Closed             bool
	ChatLog            []ChatEntry
	Status             Status
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := s
	if s.RecentBids != nil {
		out.RecentBids = make([]BidEntry, len(s.RecentBids))
		copy(out.RecentBids, s.RecentBids)
	}
	if s.ChatLog != nil {
		out.ChatLog = make([]ChatEntry, len(s.ChatLog))
		copy(out.ChatLog, s.ChatLog)
	}
	if s.TimeRemaining != nil {
		v := *s.TimeRemaining
		out.TimeRemaining = &v
	}
	return out
}

// Package sim is an in-process auction service for development and
// integration tests: authoritative rooms with a clock-driven countdown,
// server-side bid validation, and websocket fan-out. It implements the same
// boundary contract the production auction service exposes; the engine never
// imports it.
//
// Authentication is deliberately thin: any non-empty bearer token is accepted
// and doubles as the user id, while a missing token gets a 401 so client
// auth-failure paths stay exercisable.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/clients/auctionapi"
)

// AuctionSpec describes one auction to simulate.
type AuctionSpec struct {
	ID              string `yaml:"id"`
	Title           string `yaml:"title"`
	SellerID        string `yaml:"seller_id"`
	StartingBid     int64  `yaml:"starting_bid"`
	MinIncrement    int64  `yaml:"min_increment"`
	DurationSeconds int64  `yaml:"duration_seconds"`
}

// Service hosts a set of auction rooms behind the REST and websocket surface.
type Service struct {
	clock clockwork.Clock
	ctx   context.Context

	mu       sync.Mutex
	rooms    map[string]*auctionRoom
	userBids map[string][]auctionapi.UserBid
}

// NewService creates an empty service. Rooms live until ctx is cancelled.
func NewService(ctx context.Context, clock clockwork.Clock) *Service {
	return &Service{
		clock:    clock,
		ctx:      ctx,
		rooms:    make(map[string]*auctionRoom),
		userBids: make(map[string][]auctionapi.UserBid),
	}
}

// CreateAuction opens a new room and starts its countdown immediately.
func (s *Service) CreateAuction(spec AuctionSpec) error {
	if spec.ID == "" {
		return errors.New("auction id is required")
	}
	if spec.DurationSeconds <= 0 {
		return fmt.Errorf("auction %s: duration must be positive", spec.ID)
	}
	if spec.StartingBid < 0 {
		return fmt.Errorf("auction %s: starting bid must not be negative", spec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[spec.ID]; exists {
		return fmt.Errorf("auction %s already exists", spec.ID)
	}
	s.rooms[spec.ID] = newAuctionRoom(s.ctx, s.clock, spec, s.recordBid)

	log.Info().
		Str("auction_id", spec.ID).
		Str("title", spec.Title).
		Int64("starting_bid", spec.StartingBid).
		Int64("duration_seconds", spec.DurationSeconds).
		Msg("auction created")
	return nil
}

func (s *Service) room(auctionID string) (*auctionRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[auctionID]
	return rm, ok
}

func (s *Service) recordBid(userID string, bid auctionapi.UserBid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userBids[userID] = append(s.userBids[userID], bid)
}

// Router returns the full HTTP surface: REST plus the websocket endpoint.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/auctions/{auctionID}", s.handleAuctionMetadata)
	r.Get("/api/auctions/{auctionID}/live", s.handleLiveState)
	r.Post("/api/auctions/{auctionID}/bids", s.handleSubmitBid)
	r.Post("/api/auctions/{auctionID}/close", s.handleCloseAuction)
	r.Get("/api/users/{userID}/bids", s.handleUserBids)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Service) handleAuctionMetadata(w http.ResponseWriter, r *http.Request) {
	if _, ok := bearerToken(r); !ok {
		unauthorized(w)
		return
	}
	rm, ok := s.room(chi.URLParam(r, "auctionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	snap, ok := rm.snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "room is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, snap.meta)
}

func (s *Service) handleLiveState(w http.ResponseWriter, r *http.Request) {
	if _, ok := bearerToken(r); !ok {
		unauthorized(w)
		return
	}
	rm, ok := s.room(chi.URLParam(r, "auctionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	snap, ok := rm.snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "room is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, snap.live)
}

func (s *Service) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := bearerToken(r)
	if !ok {
		unauthorized(w)
		return
	}
	rm, ok := s.room(chi.URLParam(r, "auctionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}

	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed bid payload")
		return
	}

	res, ok := rm.submitBid(userID, body.Amount)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "room is shutting down")
		return
	}
	if res.reject != "" {
		log.Debug().
			Str("auction_id", chi.URLParam(r, "auctionID")).
			Str("user_id", userID).
			Int64("amount", body.Amount).
			Str("reason", res.reject).
			Msg("bid rejected")
		writeError(w, http.StatusConflict, res.reject)
		return
	}
	writeJSON(w, http.StatusOK, res.receipt)
}

func (s *Service) handleCloseAuction(w http.ResponseWriter, r *http.Request) {
	userID, ok := bearerToken(r)
	if !ok {
		unauthorized(w)
		return
	}
	rm, ok := s.room(chi.URLParam(r, "auctionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}

	reject, ok := rm.closeAuction(userID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "room is shutting down")
		return
	}
	if reject != "" {
		writeError(w, http.StatusConflict, reject)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": true})
}

func (s *Service) handleUserBids(w http.ResponseWriter, r *http.Request) {
	if _, ok := bearerToken(r); !ok {
		unauthorized(w)
		return
	}
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	bids := append([]auctionapi.UserBid(nil), s.userBids[userID]...)
	s.mu.Unlock()

	if bids == nil {
		bids = []auctionapi.UserBid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "missing bearer token")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

// Package gateway terminates client WebSocket connections: it authenticates
// the handshake, decodes the inbound wire vocabulary, and routes each frame
// to the bid pipeline, room registry, or time-sync responder (spec §4.6).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/riftauction/auctiond/internal/bidding"
	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/credential"
	"github.com/riftauction/auctiond/internal/room"
	"github.com/riftauction/auctiond/internal/timesync"
	"github.com/riftauction/auctiond/internal/wire"
)

// Server upgrades HTTP connections to WebSocket and runs the per-connection
// read loop.
type Server struct {
	issuer    *credential.Issuer
	revoked   credential.RevocationChecker
	pipeline  *bidding.Pipeline
	rooms     *room.Registry
	clock     clock.Clock
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	allowedOrigin string
}

// New constructs a Server. allowedOrigin is the single origin the upgrader
// accepts WebSocket requests from (spec §6's ALLOWED_ORIGIN).
func New(issuer *credential.Issuer, revoked credential.RevocationChecker, pipeline *bidding.Pipeline, rooms *room.Registry, clk clock.Clock, allowedOrigin string, logger *slog.Logger) *Server {
	s := &Server{
		issuer:        issuer,
		revoked:       revoked,
		pipeline:      pipeline,
		rooms:         rooms,
		clock:         clk,
		logger:        logger,
		allowedOrigin: allowedOrigin,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return origin == s.allowedOrigin
}

// ServeHTTP authenticates the handshake using a bearer credential supplied
// either as an Authorization header or a "token" query parameter (browsers
// cannot set arbitrary headers during the WebSocket handshake), then
// upgrades the connection and runs its read loop until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := bearerToken(r)
	if raw == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	claims, err := s.issuer.Verify(ctx, raw, s.revoked)
	if err != nil {
		s.logger.Warn("handshake rejected", "error", err)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(uuid.NewString(), claims.UserID, claims.Username, ws, s.logger)
	s.logger.Info("connection ready", "conn_id", conn.id, "user_id", conn.userID)

	go conn.writePump()
	s.readPump(conn)
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}

// readPump is the connection's single reader: it decodes inbound envelopes
// and dispatches them in order, blocking until the socket closes.
func (s *Server) readPump(c *Conn) {
	defer func() {
		s.rooms.OnDisconnect(c.id)
		c.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("unexpected websocket close", "conn_id", c.id, "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed inbound frame", "conn_id", c.id, "error", err)
			continue
		}

		s.dispatch(context.Background(), c, env)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Conn, env wire.Envelope) {
	switch env.Type {
	case wire.TimeSyncRequest:
		s.handleTimeSync(c, env)
	case wire.JoinAuctionRoom:
		s.handleJoin(ctx, c, env)
	case wire.LeaveAuctionRoom:
		s.handleLeave(c, env)
	case wire.PlaceBid:
		s.handlePlaceBid(ctx, c, env)
	default:
		s.logger.Warn("unhandled inbound message type", "conn_id", c.id, "type", env.Type)
	}
}

func (s *Server) handleTimeSync(c *Conn, env wire.Envelope) {
	var req wire.TimeSyncRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.Warn("malformed TIME_SYNC_REQUEST", "conn_id", c.id, "error", err)
		return
	}
	payload := timesync.Respond(req.ClientTimestampT0InMs, s.clock)
	out, err := wire.Encode(wire.TimeSyncResponse, payload)
	if err != nil {
		s.logger.Error("encoding TIME_SYNC_RESPONSE", "conn_id", c.id, "error", err)
		return
	}
	c.Send(out)
}

func (s *Server) handleJoin(ctx context.Context, c *Conn, env wire.Envelope) {
	var req wire.JoinAuctionRoomPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.Warn("malformed JOIN_AUCTION_ROOM", "conn_id", c.id, "error", err)
		return
	}
	ack, sync, err := s.rooms.Join(ctx, req.AuctionItemID, c)
	if err != nil {
		s.logger.Error("joining auction room", "conn_id", c.id, "auction_id", req.AuctionItemID, "error", err)
		return
	}
	c.Send(ack)
	c.Send(sync)
}

func (s *Server) handleLeave(c *Conn, env wire.Envelope) {
	var req wire.LeaveAuctionRoomPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.Warn("malformed LEAVE_AUCTION_ROOM", "conn_id", c.id, "error", err)
		return
	}
	s.rooms.Leave(req.AuctionItemID, c.id)

	left, err := wire.Encode(wire.LeftAuctionRoom, wire.LeftAuctionRoomPayload{AuctionItemID: req.AuctionItemID})
	if err != nil {
		s.logger.Error("encoding LEFT_AUCTION_ROOM", "conn_id", c.id, "error", err)
		return
	}
	c.Send(left)
}

func (s *Server) handlePlaceBid(ctx context.Context, c *Conn, env wire.Envelope) {
	var req wire.PlaceBidPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.Warn("malformed PLACE_BID", "conn_id", c.id, "error", err)
		return
	}

	result, err := s.pipeline.PlaceBid(ctx, req.AuctionItemID, c.userID, c.username, req.BidAmountInDollars)
	if err != nil {
		var be *bidding.BidError
		if !errors.As(err, &be) {
			s.logger.Error("bid pipeline failed", "conn_id", c.id, "auction_id", req.AuctionItemID, "error", err)
			c.Close()
			return
		}
		if be.ClientAttributable() {
			s.sendBidError(c, req.AuctionItemID, be)
			return
		}
		// Server-attributable: always logged with full detail. A lost race or
		// a transient coordinator/store failure is retryable, so it is also
		// surfaced to the client as a generic BID_PLACED_ERROR rather than
		// killing the socket; only InternalError closes the connection.
		s.logger.Error("bid pipeline server error", "conn_id", c.id, "auction_id", req.AuctionItemID, "code", be.Code, "error", be.Error())
		if be.Retryable() {
			s.sendBidError(c, req.AuctionItemID, be)
			return
		}
		c.Close()
		return
	}

	out, err := wire.Encode(wire.BidPlacedSuccess, wire.BidPlacedSuccessPayload{
		AuctionItemID:        req.AuctionItemID,
		BidAmountInDollars:   result.Amount,
		BidID:                result.BidID,
		BidPlacedAtTimestamp: result.AcceptedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.Error("encoding BID_PLACED_SUCCESS", "conn_id", c.id, "error", err)
		return
	}
	c.Send(out)
}

func (s *Server) sendBidError(c *Conn, auctionID string, be *bidding.BidError) {
	out, err := wire.Encode(wire.BidPlacedError, wire.BidPlacedErrorPayload{
		AuctionItemID: auctionID,
		ErrorCode:     string(be.Code),
		ErrorMessage:  be.ClientMessage(),
	})
	if err != nil {
		s.logger.Error("encoding BID_PLACED_ERROR", "conn_id", c.id, "error", err)
		return
	}
	c.Send(out)
}

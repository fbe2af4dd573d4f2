// Package wire defines the socket gateway's bit-stable JSON event vocabulary:
// message type names and their payload shapes, in both directions.
package wire

import (
	"encoding/json"

	"github.com/riftauction/auctiond/internal/money"
)

// Type is one of the bit-stable event names exchanged over the socket.
type Type string

const (
	TimeSyncRequest    Type = "TIME_SYNC_REQUEST"
	TimeSyncResponse   Type = "TIME_SYNC_RESPONSE"
	JoinAuctionRoom    Type = "JOIN_AUCTION_ROOM"
	LeaveAuctionRoom   Type = "LEAVE_AUCTION_ROOM"
	PlaceBid           Type = "PLACE_BID"
	JoinedAuctionRoom  Type = "JOINED_AUCTION_ROOM"
	LeftAuctionRoom    Type = "LEFT_AUCTION_ROOM"
	AuctionStateSync   Type = "AUCTION_STATE_SYNC"
	BidUpdateBroadcast Type = "BID_UPDATE_BROADCAST"
	BidPlacedSuccess   Type = "BID_PLACED_SUCCESS"
	BidPlacedError     Type = "BID_PLACED_ERROR"
	AuctionEndedNotice Type = "AUCTION_ENDED_NOTIFICATION"
)

// Envelope is the outer shape of every inbound and outbound message: a type
// tag plus a raw payload that is decoded according to the type.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads.

type TimeSyncRequestPayload struct {
	ClientTimestampT0InMs int64 `json:"clientTimestampT0InMs"`
}

type JoinAuctionRoomPayload struct {
	AuctionItemID string `json:"auctionItemId"`
}

type LeaveAuctionRoomPayload struct {
	AuctionItemID string `json:"auctionItemId"`
}

type PlaceBidPayload struct {
	AuctionItemID     string  `json:"auctionItemId"`
	BidAmountInDollars float64 `json:"bidAmountInDollars"`
}

// Outbound payloads.

type TimeSyncResponsePayload struct {
	ClientTimestampT0InMs int64 `json:"clientTimestampT0InMs"`
	ServerTimestampT1InMs int64 `json:"serverTimestampT1InMs"`
	ServerTimestampT2InMs int64 `json:"serverTimestampT2InMs"`
}

type JoinedAuctionRoomPayload struct {
	AuctionItemID string `json:"auctionItemId"`
}

type LeftAuctionRoomPayload struct {
	AuctionItemID string `json:"auctionItemId"`
}

// AuctionStateSyncPayload is the full snapshot sent on room join (spec §4.4).
type AuctionStateSyncPayload struct {
	AuctionItemID       string       `json:"auctionItemId"`
	CurrentHighestBid   money.Amount `json:"currentHighestBidInDollars"`
	HighestBidderUserID *string      `json:"highestBidderUserId"`
	HighestBidderName   *string      `json:"highestBidderUsername"`
	EndTime             int64        `json:"endTime"`
	Status              string       `json:"status"`
	TotalBidCount        int         `json:"totalSuccessfulBidCount"`
}

type BidUpdateBroadcastPayload struct {
	AuctionItemID         string       `json:"auctionItemId"`
	NewHighestBid         money.Amount `json:"newHighestBidInDollars"`
	HighestBidderUserID   string       `json:"highestBidderUserId"`
	HighestBidderUsername string       `json:"highestBidderUsername"`
	BidPlacedAtTimestamp  int64        `json:"bidPlacedAtTimestamp"`
	TotalNumberOfBids     int          `json:"totalNumberOfBids"`
}

type BidPlacedSuccessPayload struct {
	AuctionItemID        string       `json:"auctionItemId"`
	BidAmountInDollars   money.Amount `json:"bidAmountInDollars"`
	BidID                string       `json:"bidId"`
	BidPlacedAtTimestamp int64        `json:"bidPlacedAtTimestamp"`
}

type BidPlacedErrorPayload struct {
	AuctionItemID string `json:"auctionItemId"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
}

type AuctionEndedNotificationPayload struct {
	AuctionItemID       string        `json:"auctionItemId"`
	WinnerUserID        *string       `json:"winnerUserId"`
	WinnerUsername      *string       `json:"winnerUsername"`
	FinalBidAmount      *money.Amount `json:"finalBidAmountInDollars"`
	AuctionEndedAtStamp int64         `json:"auctionEndedAtTimestamp"`
}

// Encode wraps a typed payload into an Envelope ready for transmission.
func Encode(t Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: data}, nil
}

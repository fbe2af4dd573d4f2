package bidding

import (
	"fmt"

	"github.com/riftauction/auctiond/internal/money"
)

// ErrorCode is one of the eleven bid-pipeline error kinds enumerated in
// spec §7.
type ErrorCode string

const (
	InvalidAmount          ErrorCode = "InvalidAmount"
	AuctionNotFound        ErrorCode = "AuctionNotFound"
	AuctionEnded           ErrorCode = "AuctionEnded"
	AuctionNotStarted      ErrorCode = "AuctionNotStarted"
	OwnAuction             ErrorCode = "OwnAuction"
	BidTooLow              ErrorCode = "BidTooLow"
	LockUnavailable        ErrorCode = "LockUnavailable"
	Conflict               ErrorCode = "Conflict"
	CoordinatorUnavailable ErrorCode = "CoordinatorUnavailable"
	StoreUnavailable       ErrorCode = "StoreUnavailable"
	InternalError          ErrorCode = "InternalError"
)

// clientAttributable holds the seven kinds spec §7 says are returned to the
// client as BID_PLACED_ERROR without closing the connection.
var clientAttributable = map[ErrorCode]bool{
	InvalidAmount:     true,
	AuctionNotFound:   true,
	AuctionEnded:      true,
	AuctionNotStarted: true,
	OwnAuction:        true,
	BidTooLow:         true,
	LockUnavailable:   true,
}

// retryable holds the server-attributable kinds spec §7 says are safe to
// retry immediately: a lost race, or a transient coordinator/store failure.
// Together with clientAttributable, these are exactly the codes the gateway
// surfaces to the client as BID_PLACED_ERROR without closing the socket;
// InternalError is the only code that falls through to a close.
var retryable = map[ErrorCode]bool{
	Conflict:               true,
	CoordinatorUnavailable: true,
	StoreUnavailable:       true,
}

// BidError is the sum-typed error the bid pipeline returns in place of a
// raw Go error, so that client-attributable outcomes never propagate as
// exceptions (spec §7's propagation policy).
type BidError struct {
	Code     ErrorCode
	Message  string
	Required *money.Amount // set only on BidTooLow, carrying the minimum acceptable amount
}

func (e *BidError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// ClientAttributable reports whether this error should be returned to the
// client as BID_PLACED_ERROR without closing the connection.
func (e *BidError) ClientAttributable() bool { return clientAttributable[e.Code] }

// Retryable reports whether this is one of the server-attributable codes
// the client may retry (Conflict, CoordinatorUnavailable, StoreUnavailable).
// Client-attributable codes, LockUnavailable included, report false.
func (e *BidError) Retryable() bool { return retryable[e.Code] }

// ClientMessage returns the message safe to hand back to the client: the
// detailed message for client-caused errors, or a generic one for
// server-attributable errors so internal error detail is never leaked over
// the wire (spec §7).
func (e *BidError) ClientMessage() string {
	if e.ClientAttributable() {
		return e.Message
	}
	switch e.Code {
	case Conflict:
		return "another bid was committed first, retry"
	case CoordinatorUnavailable, StoreUnavailable:
		return "temporarily unavailable, retry shortly"
	default:
		return "internal error"
	}
}

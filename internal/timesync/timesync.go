// Package timesync answers the gateway's clock-offset handshake: a client
// sends its local timestamp t0 and the server echoes it back alongside its
// own receive and send timestamps, letting the client estimate round-trip
// latency and clock skew (spec §4.5).
package timesync

import (
	"github.com/riftauction/auctiond/internal/clock"
	"github.com/riftauction/auctiond/internal/wire"
)

// Respond builds a TIME_SYNC_RESPONSE payload for a request carrying
// clientTimestampT0InMs. clk is sampled twice, t1 before any further work
// and t2 immediately before the response is handed back to the caller for
// transmission — in this stateless handler the two coincide, but the
// gateway is expected to call Respond as late as possible in its handling
// of the inbound frame to keep t2 meaningful.
func Respond(clientTimestampT0InMs int64, clk clock.Clock) wire.TimeSyncResponsePayload {
	t1 := clk.Now().UnixMilli()
	return wire.TimeSyncResponsePayload{
		ClientTimestampT0InMs: clientTimestampT0InMs,
		ServerTimestampT1InMs: t1,
		ServerTimestampT2InMs: clk.Now().UnixMilli(),
	}
}

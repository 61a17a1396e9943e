package engine

import "perpdirector/internal/exchange"

// Direction is the trade intent derived from the advisory.
type Direction string

const (
	DirLong  Direction = "long"
	DirShort Direction = "short"
	DirClose Direction = "close"
)

// PositionSide is the current position state.
type PositionSide string

const (
	PosFlat  PositionSide = "flat"
	PosLong  PositionSide = "long"
	PosShort PositionSide = "short"
)

type sideKey struct {
	intent Direction
	pos    PositionSide
}

// sideTable maps (intent, current position) to the venue side code. Pairs
// absent from the table are no-ops: adding to an existing position in the
// same direction and closing a flat book both do nothing. A reversal closes
// the opposing position first; the new position opens on a later tick.
var sideTable = map[sideKey]exchange.SideCode{
	{DirLong, PosFlat}:   exchange.SideOpenLong,
	{DirLong, PosShort}:  exchange.SideCloseShort,
	{DirShort, PosFlat}:  exchange.SideOpenShort,
	{DirShort, PosLong}:  exchange.SideCloseLong,
	{DirClose, PosLong}:  exchange.SideCloseLong,
	{DirClose, PosShort}: exchange.SideCloseShort,
}

// sideCodeFor resolves the venue side code for an intent against the current
// position. ok is false when the pair is a no-op.
func sideCodeFor(intent Direction, pos PositionSide) (exchange.SideCode, bool) {
	code, ok := sideTable[sideKey{intent, pos}]
	return code, ok
}

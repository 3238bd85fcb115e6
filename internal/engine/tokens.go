package engine

import (
	"errors"
	"fmt"
)

// BoardSize is the side length of the board in cells.
const BoardSize = 9

var ErrBadToken = errors.New("malformed action token")

type ActionKind int

const (
	KindMove ActionKind = iota
	KindWallHorizontal
	KindWallVertical
)

// ActionToken is the parsed wire form of an action: `*(X,Y)` moves the pawn
// to cell (X,Y), `H(X,Y)` and `V(X,Y)` place a wall anchored at (X,Y).
// Coordinates are integers in 0..8.
type ActionToken struct {
	Kind ActionKind
	X    int
	Y    int
}

func ParseToken(raw string) (ActionToken, error) {
	if len(raw) < 6 {
		return ActionToken{}, fmt.Errorf("%w: %q", ErrBadToken, raw)
	}

	var kind ActionKind
	switch raw[0] {
	case '*':
		kind = KindMove
	case 'H':
		kind = KindWallHorizontal
	case 'V':
		kind = KindWallVertical
	default:
		return ActionToken{}, fmt.Errorf("%w: %q", ErrBadToken, raw)
	}

	var x, y int
	if _, err := fmt.Sscanf(raw[1:], "(%d,%d)", &x, &y); err != nil {
		return ActionToken{}, fmt.Errorf("%w: %q", ErrBadToken, raw)
	}

	if x < 0 || x >= BoardSize || y < 0 || y >= BoardSize {
		return ActionToken{}, fmt.Errorf("%w: coordinates out of range in %q", ErrBadToken, raw)
	}

	return ActionToken{Kind: kind, X: x, Y: y}, nil
}

func (that ActionToken) String() string {
	var prefix string
	switch that.Kind {
	case KindMove:
		prefix = "*"
	case KindWallHorizontal:
		prefix = "H"
	case KindWallVertical:
		prefix = "V"
	}

	return fmt.Sprintf("%s(%d,%d)", prefix, that.X, that.Y)
}

// Flip rotates a token 180 degrees, translating between the two players'
// perspectives. Pawn cells mirror over the 9x9 grid, wall anchors over the
// 8x8 intersection grid.
func (that ActionToken) Flip() ActionToken {
	if that.Kind == KindMove {
		that.X = BoardSize - 1 - that.X
		that.Y = BoardSize - 1 - that.Y
		return that
	}

	that.X = BoardSize - 2 - that.X
	that.Y = BoardSize - 2 - that.Y

	return that
}

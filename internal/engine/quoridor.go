package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
)

const (
	sidePrimary   = 0
	sideSecondary = 1

	rolloutDepth = 48
)

type position struct {
	X int
	Y int
}

// quoridorFactory builds the bundled heuristic engine. It plays by shortest
// path difference with shallow random rollouts; search strength is not the
// point, honoring the Handle contract is.
type quoridorFactory struct{}

func NewQuoridorFactory() Factory {
	return &quoridorFactory{}
}

func (that *quoridorFactory) Create(gameID string, opts Options) (Handle, error) {
	if opts.SimIncrement <= 0 {
		opts.SimIncrement = 1
	}
	if opts.MaxSimulations <= 0 {
		opts.MaxSimulations = 1000
	}

	handle := &quoridorHandle{
		gameID: gameID,
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)), //nolint: gosec // reproducible play, not crypto
		winner: -1,
		hWalls: map[position]struct{}{},
		vWalls: map[position]struct{}{},
	}

	handle.pawns[sidePrimary] = position{X: BoardSize / 2, Y: 0}
	handle.pawns[sideSecondary] = position{X: BoardSize / 2, Y: BoardSize - 1}
	handle.wallsLeft[sidePrimary] = DefaultWalls
	handle.wallsLeft[sideSecondary] = DefaultWalls

	return handle, nil
}

// DefaultWalls is the per-player wall budget.
const DefaultWalls = 10

type quoridorHandle struct {
	gameID string
	opts   Options
	rng    *rand.Rand

	busy      int32
	cancelled atomic.Bool

	pawns     [2]position
	wallsLeft [2]int
	hWalls    map[position]struct{}
	vWalls    map[position]struct{}
	toMove    int
	winner    int
	sims      int
}

// acquire guards against a second concurrent mutator. Failing here means the
// caller broke the one-mutex-per-game discipline.
func (that *quoridorHandle) acquire() error {
	if !atomic.CompareAndSwapInt32(&that.busy, 0, 1) {
		return fmt.Errorf("%w: game %s", apperror.ErrEngineBusy, that.gameID)
	}

	return nil
}

func (that *quoridorHandle) release() {
	atomic.StoreInt32(&that.busy, 0)
}

func (that *quoridorHandle) ApplyMove(ctx context.Context, token string, flip bool) error {
	if err := that.acquire(); err != nil {
		return err
	}
	defer that.release()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apply move: %w", err)
	}

	parsed, err := ParseToken(token)
	if err != nil {
		return err
	}

	if flip {
		parsed = parsed.Flip()
	}

	legal := false
	for _, candidate := range that.legalTokens(that.toMove) {
		if candidate == parsed {
			legal = true
			break
		}
	}

	if !legal {
		return fmt.Errorf("%w: %s in game %s", apperror.ErrIllegalAction, parsed, that.gameID)
	}

	that.applyToken(parsed)

	return nil
}

func (that *quoridorHandle) LegalActions(ctx context.Context, flip bool) ([]Action, error) {
	if err := that.acquire(); err != nil {
		return nil, err
	}
	defer that.release()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("legal actions: %w", err)
	}

	return that.scoredActions(flip), nil
}

func (that *quoridorHandle) BestAction(ctx context.Context, epsilon float64) (string, error) {
	if err := that.acquire(); err != nil {
		return "", err
	}
	defer that.release()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("best action: %w", err)
	}

	actions := that.scoredActions(false)
	if len(actions) == 0 {
		return "", fmt.Errorf("%w: game %s", ErrNoLegalActions, that.gameID)
	}

	if epsilon > 0 && that.rng.Float64() < epsilon {
		return actions[that.rng.Intn(len(actions))].Token, nil
	}

	return actions[0].Token, nil
}

func (that *quoridorHandle) EnsureSimulations(ctx context.Context, n int) error {
	if err := that.acquire(); err != nil {
		return err
	}
	defer that.release()

	// A previous Cancel must not poison the next computation.
	that.cancelled.Store(false)

	if n > that.opts.MaxSimulations {
		n = that.opts.MaxSimulations
	}

	for that.sims < n {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulations interrupted: %w", err)
		}

		if that.cancelled.Load() {
			return fmt.Errorf("%w: game %s", ErrCancelled, that.gameID)
		}

		that.rollout()
		that.sims += that.opts.SimIncrement
	}

	return nil
}

func (that *quoridorHandle) Evaluation(ctx context.Context) (*float64, error) {
	if err := that.acquire(); err != nil {
		return nil, err
	}
	defer that.release()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation: %w", err)
	}

	switch that.winner {
	case sidePrimary:
		value := 1.0
		return &value, nil
	case sideSecondary:
		value := -1.0
		return &value, nil
	default:
		return nil, nil
	}
}

func (that *quoridorHandle) Render(ctx context.Context, flip bool) (string, error) {
	if err := that.acquire(); err != nil {
		return "", err
	}
	defer that.release()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	return that.render(flip), nil
}

func (that *quoridorHandle) Cancel() {
	that.cancelled.Store(true)
}

func (that *quoridorHandle) Destroy() error {
	that.Cancel()
	return nil
}

// applyToken assumes the token was already checked for legality.
func (that *quoridorHandle) applyToken(token ActionToken) {
	side := that.toMove

	switch token.Kind {
	case KindMove:
		that.pawns[side] = position{X: token.X, Y: token.Y}
		if token.Y == that.goalRow(side) {
			that.winner = side
		}
	case KindWallHorizontal:
		that.hWalls[position{X: token.X, Y: token.Y}] = struct{}{}
		that.wallsLeft[side]--
	case KindWallVertical:
		that.vWalls[position{X: token.X, Y: token.Y}] = struct{}{}
		that.wallsLeft[side]--
	}

	that.toMove = 1 - side
	that.sims = 0
}

func (that *quoridorHandle) goalRow(side int) int {
	if side == sidePrimary {
		return BoardSize - 1
	}

	return 0
}

func (that *quoridorHandle) legalTokens(side int) []ActionToken {
	if that.winner >= 0 {
		return nil
	}

	tokens := make([]ActionToken, 0, 16)

	for _, cell := range that.pawnDestinations(side) {
		tokens = append(tokens, ActionToken{Kind: KindMove, X: cell.X, Y: cell.Y})
	}

	if that.wallsLeft[side] > 0 {
		for x := 0; x < BoardSize-1; x++ {
			for y := 0; y < BoardSize-1; y++ {
				anchor := position{X: x, Y: y}
				if that.wallFits(KindWallHorizontal, anchor) {
					tokens = append(tokens, ActionToken{Kind: KindWallHorizontal, X: x, Y: y})
				}
				if that.wallFits(KindWallVertical, anchor) {
					tokens = append(tokens, ActionToken{Kind: KindWallVertical, X: x, Y: y})
				}
			}
		}
	}

	return tokens
}

// pawnDestinations lists orthogonal steps plus the straight jump over a
// face-to-face opponent, with diagonal deflections when the jump is blocked.
func (that *quoridorHandle) pawnDestinations(side int) []position {
	self := that.pawns[side]
	opponent := that.pawns[1-side]

	dirs := []position{{X: 0, Y: 1}, {X: 0, Y: -1}, {X: 1, Y: 0}, {X: -1, Y: 0}}
	cells := make([]position, 0, 5)

	for _, dir := range dirs {
		step := position{X: self.X + dir.X, Y: self.Y + dir.Y}
		if !inBounds(step) || that.blocked(self, step) {
			continue
		}

		if step != opponent {
			cells = append(cells, step)
			continue
		}

		jump := position{X: step.X + dir.X, Y: step.Y + dir.Y}
		if inBounds(jump) && !that.blocked(step, jump) {
			cells = append(cells, jump)
			continue
		}

		for _, lateral := range perpendicular(dir) {
			diag := position{X: step.X + lateral.X, Y: step.Y + lateral.Y}
			if inBounds(diag) && diag != self && !that.blocked(step, diag) {
				cells = append(cells, diag)
			}
		}
	}

	return cells
}

// wallFits checks slot conflicts and the path guard: a wall may never seal
// either pawn away from its goal row.
func (that *quoridorHandle) wallFits(kind ActionKind, anchor position) bool {
	if kind == KindWallHorizontal {
		if _, ok := that.hWalls[anchor]; ok {
			return false
		}
		if _, ok := that.hWalls[position{X: anchor.X - 1, Y: anchor.Y}]; ok {
			return false
		}
		if _, ok := that.hWalls[position{X: anchor.X + 1, Y: anchor.Y}]; ok {
			return false
		}
		if _, ok := that.vWalls[anchor]; ok {
			return false
		}

		that.hWalls[anchor] = struct{}{}
		defer delete(that.hWalls, anchor)

		return that.pathLength(sidePrimary) >= 0 && that.pathLength(sideSecondary) >= 0
	}

	if _, ok := that.vWalls[anchor]; ok {
		return false
	}
	if _, ok := that.vWalls[position{X: anchor.X, Y: anchor.Y - 1}]; ok {
		return false
	}
	if _, ok := that.vWalls[position{X: anchor.X, Y: anchor.Y + 1}]; ok {
		return false
	}
	if _, ok := that.hWalls[anchor]; ok {
		return false
	}

	that.vWalls[anchor] = struct{}{}
	defer delete(that.vWalls, anchor)

	return that.pathLength(sidePrimary) >= 0 && that.pathLength(sideSecondary) >= 0
}

// blocked reports whether a wall separates two adjacent cells.
func (that *quoridorHandle) blocked(from, to position) bool {
	switch {
	case to.Y == from.Y+1:
		return that.hasHWall(from.X, from.Y) || that.hasHWall(from.X-1, from.Y)
	case to.Y == from.Y-1:
		return that.hasHWall(from.X, to.Y) || that.hasHWall(from.X-1, to.Y)
	case to.X == from.X+1:
		return that.hasVWall(from.X, from.Y) || that.hasVWall(from.X, from.Y-1)
	case to.X == from.X-1:
		return that.hasVWall(to.X, from.Y) || that.hasVWall(to.X, from.Y-1)
	default:
		return true
	}
}

func (that *quoridorHandle) hasHWall(x, y int) bool {
	_, ok := that.hWalls[position{X: x, Y: y}]
	return ok
}

func (that *quoridorHandle) hasVWall(x, y int) bool {
	_, ok := that.vWalls[position{X: x, Y: y}]
	return ok
}

// pathLength is a BFS to the goal row ignoring the opponent pawn.
// Returns -1 when no path exists.
func (that *quoridorHandle) pathLength(side int) int {
	start := that.pawns[side]
	goal := that.goalRow(side)

	if start.Y == goal {
		return 0
	}

	visited := map[position]struct{}{start: {}}
	frontier := []position{start}
	steps := 0

	for len(frontier) > 0 {
		steps++
		next := make([]position, 0, len(frontier)*3)

		for _, cell := range frontier {
			for _, dir := range []position{{X: 0, Y: 1}, {X: 0, Y: -1}, {X: 1, Y: 0}, {X: -1, Y: 0}} {
				neighbor := position{X: cell.X + dir.X, Y: cell.Y + dir.Y}
				if !inBounds(neighbor) || that.blocked(cell, neighbor) {
					continue
				}
				if _, seen := visited[neighbor]; seen {
					continue
				}

				if neighbor.Y == goal {
					return steps
				}

				visited[neighbor] = struct{}{}
				next = append(next, neighbor)
			}
		}

		frontier = next
	}

	return -1
}

// scoredActions evaluates every legal action by the path-difference heuristic
// and returns them sorted by strength descending.
func (that *quoridorHandle) scoredActions(flip bool) []Action {
	tokens := that.legalTokens(that.toMove)
	actions := make([]Action, 0, len(tokens))

	for _, token := range tokens {
		equity := that.scoreToken(token)

		wire := token
		if flip {
			wire = token.Flip()
		}

		actions = append(actions, Action{Equity: equity, Token: wire.String()})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Equity != actions[j].Equity {
			return actions[i].Equity > actions[j].Equity
		}
		return actions[i].Token < actions[j].Token
	})

	for rank := range actions {
		actions[rank].Visits = that.sims / (rank + 1)
	}

	return actions
}

// scoreToken applies the token on the live state, measures the shortest-path
// difference from the mover's point of view and undoes the change.
func (that *quoridorHandle) scoreToken(token ActionToken) float64 {
	side := that.toMove

	undo := that.push(token, side)
	defer undo()

	if token.Kind == KindMove && that.pawns[side].Y == that.goalRow(side) {
		return 1
	}

	self := that.pathLength(side)
	other := that.pathLength(1 - side)

	diff := float64(other-self) / float64(2*BoardSize)
	if diff > 1 {
		diff = 1
	}
	if diff < -1 {
		diff = -1
	}

	return diff
}

// push applies a token without flipping the side to move and returns the
// inverse operation.
func (that *quoridorHandle) push(token ActionToken, side int) func() {
	switch token.Kind {
	case KindMove:
		previous := that.pawns[side]
		that.pawns[side] = position{X: token.X, Y: token.Y}
		return func() { that.pawns[side] = previous }
	case KindWallHorizontal:
		anchor := position{X: token.X, Y: token.Y}
		that.hWalls[anchor] = struct{}{}
		return func() { delete(that.hWalls, anchor) }
	default:
		anchor := position{X: token.X, Y: token.Y}
		that.vWalls[anchor] = struct{}{}
		return func() { delete(that.vWalls, anchor) }
	}
}

// rollout plays a short random pawn race from the current position. It only
// feeds the simulation counter with bounded work between cancellation checks.
func (that *quoridorHandle) rollout() {
	pawns := that.pawns
	side := that.toMove

	for depth := 0; depth < rolloutDepth; depth++ {
		if pawns[side].Y == that.goalRow(side) {
			return
		}

		best := pawns[side]
		bestLen := that.pathFrom(pawns[side], side)

		for _, dir := range []position{{X: 0, Y: 1}, {X: 0, Y: -1}, {X: 1, Y: 0}, {X: -1, Y: 0}} {
			step := position{X: pawns[side].X + dir.X, Y: pawns[side].Y + dir.Y}
			if !inBounds(step) || that.blocked(pawns[side], step) || step == pawns[1-side] {
				continue
			}

			length := that.pathFrom(step, side)
			if length >= 0 && (length < bestLen || (length == bestLen && that.rng.Intn(2) == 0)) {
				best = step
				bestLen = length
			}
		}

		pawns[side] = best
		side = 1 - side
	}
}

func (that *quoridorHandle) pathFrom(start position, side int) int {
	saved := that.pawns[side]
	that.pawns[side] = start
	length := that.pathLength(side)
	that.pawns[side] = saved

	return length
}

func (that *quoridorHandle) render(flip bool) string {
	var sb strings.Builder

	marks := [2]byte{'1', '2'}

	for row := BoardSize - 1; row >= 0; row-- {
		y := row
		if flip {
			y = BoardSize - 1 - row
		}

		for x := 0; x < BoardSize; x++ {
			cx := x
			if flip {
				cx = BoardSize - 1 - x
			}

			cell := position{X: cx, Y: y}
			switch cell {
			case that.pawns[sidePrimary]:
				sb.WriteByte(marks[sidePrimary])
			case that.pawns[sideSecondary]:
				sb.WriteByte(marks[sideSecondary])
			default:
				sb.WriteByte('.')
			}

			if x < BoardSize-1 {
				if that.blocked(cell, position{X: cx + step(flip), Y: y}) {
					sb.WriteByte('|')
				} else {
					sb.WriteByte(' ')
				}
			}
		}
		sb.WriteByte('\n')

		if row > 0 {
			for x := 0; x < BoardSize; x++ {
				cx := x
				if flip {
					cx = BoardSize - 1 - x
				}

				cell := position{X: cx, Y: y}
				if that.blocked(cell, position{X: cx, Y: y - step(flip)}) {
					sb.WriteString("--")
				} else {
					sb.WriteString("  ")
				}
			}
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func step(flip bool) int {
	if flip {
		return -1
	}

	return 1
}

func perpendicular(dir position) []position {
	if dir.X == 0 {
		return []position{{X: 1, Y: 0}, {X: -1, Y: 0}}
	}

	return []position{{X: 0, Y: 1}, {X: 0, Y: -1}}
}

func inBounds(cell position) bool {
	return cell.X >= 0 && cell.X < BoardSize && cell.Y >= 0 && cell.Y < BoardSize
}

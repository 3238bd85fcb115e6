package entity

import (
	"testing"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActiveGame(t *testing.T) ActiveGame {
	t.Helper()

	now := time.Now()

	waiting := NewWaitingGame("g1", Settings{Mode: ModePvP}, now,
		Player{ID: "alice", Control: ControlHuman},
		Player{ID: "bob", Control: ControlHuman},
	)

	active, err := StartGame(waiting, now)
	require.NoError(t, err)

	return active
}

func TestStartGame(t *testing.T) {
	t.Run("Start_BothPlayersBound", func(t *testing.T) {
		// Given: a waiting game with two bound players
		active := newTestActiveGame(t)

		// Then: the primary player moves first and the move log is empty
		require.Equal(t, RolePrimary, active.Turn)
		assert.Empty(t, active.Moves)
		assert.Equal(t, "alice", active.CurrentPlayer().ID)
	})

	t.Run("Start_OnePlayerBound", func(t *testing.T) {
		// Given: a waiting game with one bound player
		waiting := NewWaitingGame("g1", Settings{Mode: ModePvP}, time.Now(),
			Player{ID: "alice", Control: ControlHuman})

		// When: the game is started
		_, err := StartGame(waiting, time.Now())

		// Then: the start is refused
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrGameIsNotStarted)
	})

	t.Run("Join_ThirdPlayerRefused", func(t *testing.T) {
		waiting := NewWaitingGame("g1", Settings{Mode: ModePvP}, time.Now(),
			Player{ID: "alice"}, Player{ID: "bob"})

		_, err := waiting.Join(Player{ID: "carol"}, time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrGameAlreadyExists)
	})
}

func TestProcessMove(t *testing.T) {
	t.Run("Move_FlipsTurn", func(t *testing.T) {
		active := newTestActiveGame(t)

		// When: the primary player makes a non-terminal move
		result, err := ProcessMove(active, "alice", MoveInput{
			Action:       "*(4,1)",
			LegalReplies: 12,
			Board:        "board-after",
		}, time.Now())

		// Then: the turn flips, the move log grows, the snapshot is replaced
		require.NoError(t, err)

		next, ok := result.Session.(ActiveGame)
		require.True(t, ok)
		assert.Equal(t, RoleSecondary, next.Turn)
		assert.Len(t, next.Moves, 1)
		assert.Equal(t, "board-after", next.Board)
		assert.Equal(t, 1, result.Move.Sequence)
		assert.False(t, result.AIShouldMove)

		// And: the original record is untouched
		assert.Empty(t, active.Moves)
		assert.Equal(t, RolePrimary, active.Turn)
	})

	t.Run("Move_WallPlacement_SpendsBudget", func(t *testing.T) {
		active := newTestActiveGame(t)

		// When: the primary player places a horizontal wall
		result, err := ProcessMove(active, "alice", MoveInput{
			Action:       "H(3,4)",
			LegalReplies: 12,
			Board:        "board-after",
		}, time.Now())
		require.NoError(t, err)

		// Then: only the mover's budget shrinks
		next, ok := result.Session.(ActiveGame)
		require.True(t, ok)

		alice, ok := next.PlayerByID("alice")
		require.True(t, ok)
		assert.Equal(t, DefaultWallCount-1, alice.WallsRemaining)

		bob, ok := next.PlayerByID("bob")
		require.True(t, ok)
		assert.Equal(t, DefaultWallCount, bob.WallsRemaining)

		// And: a vertical wall by the opponent spends theirs
		result, err = ProcessMove(next, "bob", MoveInput{
			Action:       "V(5,2)",
			LegalReplies: 12,
			Board:        "board-after-2",
		}, time.Now())
		require.NoError(t, err)

		next, ok = result.Session.(ActiveGame)
		require.True(t, ok)

		bob, ok = next.PlayerByID("bob")
		require.True(t, ok)
		assert.Equal(t, DefaultWallCount-1, bob.WallsRemaining)

		// And: a pawn move spends nothing
		result, err = ProcessMove(next, "alice", MoveInput{
			Action:       "*(4,1)",
			LegalReplies: 12,
			Board:        "board-after-3",
		}, time.Now())
		require.NoError(t, err)

		next, ok = result.Session.(ActiveGame)
		require.True(t, ok)

		alice, ok = next.PlayerByID("alice")
		require.True(t, ok)
		assert.Equal(t, DefaultWallCount-1, alice.WallsRemaining)
	})

	t.Run("Move_WinningWall_RecordedInFinalSession", func(t *testing.T) {
		active := newTestActiveGame(t)

		// A wall that leaves the opponent without replies still spends the budget.
		result, err := ProcessMove(active, "alice", MoveInput{Action: "H(0,7)", LegalReplies: 0}, time.Now())
		require.NoError(t, err)

		completed, ok := result.Session.(CompletedGame)
		require.True(t, ok)

		require.Equal(t, "alice", completed.Players[0].ID)
		assert.Equal(t, DefaultWallCount-1, completed.Players[0].WallsRemaining)
	})

	t.Run("Move_WrongTurn", func(t *testing.T) {
		active := newTestActiveGame(t)

		_, err := ProcessMove(active, "bob", MoveInput{Action: "*(4,7)", LegalReplies: 12}, time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrNotYourTurn)
	})

	t.Run("Move_UnknownPlayer", func(t *testing.T) {
		active := newTestActiveGame(t)

		_, err := ProcessMove(active, "mallory", MoveInput{Action: "*(4,1)", LegalReplies: 12}, time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Move_NoLegalReplies_CurrentMoverWins", func(t *testing.T) {
		active := newTestActiveGame(t)

		result, err := ProcessMove(active, "alice", MoveInput{Action: "*(4,8)", LegalReplies: 0}, time.Now())
		require.NoError(t, err)

		completed, ok := result.Session.(CompletedGame)
		require.True(t, ok)
		assert.Equal(t, RolePrimary, completed.Winner)
		assert.Equal(t, ReasonNoLegalMoves, completed.Reason)
		assert.False(t, result.AIShouldMove)
	})

	t.Run("Move_DecisiveEvaluation_SignConvention", func(t *testing.T) {
		// Pins the convention: positive evaluation means the primary player won.
		cases := []struct {
			name       string
			evaluation float64
			winner     int
		}{
			{name: "positive_primary_wins", evaluation: 1.0, winner: RolePrimary},
			{name: "negative_secondary_wins", evaluation: -1.0, winner: RoleSecondary},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				active := newTestActiveGame(t)

				result, err := ProcessMove(active, "alice", MoveInput{
					Action:       "*(4,1)",
					Evaluation:   &tc.evaluation,
					LegalReplies: 5,
				}, time.Now())
				require.NoError(t, err)

				completed, ok := result.Session.(CompletedGame)
				require.True(t, ok)
				assert.Equal(t, tc.winner, completed.Winner)
				assert.Equal(t, ReasonDecisive, completed.Reason)
			})
		}
	})

	t.Run("Move_NextMoverIsBot", func(t *testing.T) {
		now := time.Now()
		waiting := NewWaitingGame("g2", Settings{Mode: ModeWithBot}, now,
			Player{ID: "alice", Control: ControlHuman},
			Player{ID: "bot:g2", Control: ControlBot},
		)
		active, err := StartGame(waiting, now)
		require.NoError(t, err)

		result, err := ProcessMove(active, "alice", MoveInput{Action: "*(4,1)", LegalReplies: 12}, now)
		require.NoError(t, err)

		assert.True(t, result.AIShouldMove)
	})
}

func TestResign(t *testing.T) {
	t.Run("Resign_PrimaryResigns_SecondaryWins", func(t *testing.T) {
		active := newTestActiveGame(t)

		completed, err := Resign(active, active.Players[0].ID, time.Now())

		require.NoError(t, err)
		assert.Equal(t, RoleSecondary, completed.Winner)
		assert.Equal(t, ReasonResignation, completed.Reason)
	})

	t.Run("Resign_SecondaryResigns_PrimaryWins", func(t *testing.T) {
		active := newTestActiveGame(t)

		completed, err := Resign(active, active.Players[1].ID, time.Now())

		require.NoError(t, err)
		assert.Equal(t, RolePrimary, completed.Winner)
		assert.Equal(t, ReasonResignation, completed.Reason)
	})

	t.Run("Resign_UnknownPlayer", func(t *testing.T) {
		active := newTestActiveGame(t)

		_, err := Resign(active, "mallory", time.Now())

		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})
}

func TestGameSessionTags(t *testing.T) {
	// Completed games always carry a valid winner and reason; active games
	// always carry a valid mover and no winner. The tagged union makes the
	// rest unrepresentable.
	active := newTestActiveGame(t)
	assert.Contains(t, []int{RolePrimary, RoleSecondary}, active.Turn)

	completed, err := Resign(active, "alice", time.Now())
	require.NoError(t, err)

	assert.Contains(t, []int{RolePrimary, RoleSecondary}, completed.Winner)
	assert.Contains(t, []string{ReasonResignation, ReasonNoLegalMoves, ReasonDecisive}, completed.Reason)
}

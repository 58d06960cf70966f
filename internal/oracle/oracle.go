// Package oracle adapts the notnil/chess rules engine to the narrow
// contract the rest of the engine needs: apply a move to a position and
// get back either the resulting position or a reason it was illegal,
// plus turn-to-move, terminal detection and move history. Nothing
// outside this package imports notnil/chess directly.
package oracle

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// Color mirrors the two sides of the board without leaking the
// underlying library's type into callers.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// TerminalReason names why a position is terminal. The zero value
// means "not terminal".
type TerminalReason string

const (
	NotTerminal          TerminalReason = ""
	Checkmate            TerminalReason = "checkmate"
	Stalemate            TerminalReason = "stalemate"
	InsufficientMaterial TerminalReason = "insufficient-material"
	ThreefoldRepetition  TerminalReason = "threefold"
	FiftyMoveRule        TerminalReason = "fifty-move"
)

// impliesDraw reports whether r is one of the drawn terminal reasons.
func (r TerminalReason) impliesDraw() bool {
	switch r {
	case Stalemate, InsufficientMaterial, ThreefoldRepetition, FiftyMoveRule:
		return true
	default:
		return false
	}
}

// Position is an immutable snapshot of a game. Applying a move never
// mutates the receiver; it returns a new Position.
type Position struct {
	game    *chess.Game
	history []string
}

// New returns the standard chess starting position.
func New() *Position {
	return &Position{game: chess.NewGame()}
}

// Descriptor is the union of ways a client may describe a move: either
// SAN (the canonical on-wire form) or a from/to/promotion triple.
type Descriptor struct {
	SAN       string
	From      string
	To        string
	Promotion string
}

func (d Descriptor) isCoordinate() bool {
	return d.SAN == "" && d.From != "" && d.To != ""
}

// AppliedMove describes the result of a legal move.
type AppliedMove struct {
	Position  *Position
	SAN       string
	From      string
	To        string
	Piece     string
	Captured  string
	Promotion string
	IsCapture bool
	IsCheck   bool
}

// Apply attempts to play the described move against pos. It never
// mutates pos. On success it returns the resulting position; on
// failure ok is false and the caller should treat the move as illegal.
func Apply(pos *Position, d Descriptor) (AppliedMove, bool) {
	clone := pos.game.Clone()
	position := clone.Position()

	var move *chess.Move
	var err error
	switch {
	case d.SAN != "":
		move, err = chess.AlgebraicNotation{}.Decode(position, d.SAN)
	case d.isCoordinate():
		uci := strings.ToLower(d.From + d.To + d.Promotion)
		move, err = chess.UCINotation{}.Decode(position, uci)
	default:
		return AppliedMove{}, false
	}
	if err != nil || move == nil {
		return AppliedMove{}, false
	}

	capturedPiece := position.Board().Piece(move.S2())
	san := chess.AlgebraicNotation{}.Encode(position, move)

	if err := clone.Move(move); err != nil {
		return AppliedMove{}, false
	}

	history := append(append([]string{}, pos.history...), san)
	result := AppliedMove{
		Position:  &Position{game: clone, history: history},
		SAN:       san,
		From:      move.S1().String(),
		To:        move.S2().String(),
		Piece:     pieceLetter(position.Board().Piece(move.S1())),
		IsCapture: move.HasTag(chess.Capture),
		IsCheck:   clone.Position().InCheck(),
	}
	if result.IsCapture && capturedPiece != chess.NoPiece {
		result.Captured = pieceLetter(capturedPiece)
	}
	if move.Promo() != chess.NoPieceType {
		result.Promotion = move.Promo().String()
	}
	return result, true
}

// Turn reports the side to move.
func Turn(pos *Position) Color {
	if pos.game.Position().Turn() == chess.Black {
		return Black
	}
	return White
}

// Terminal reports whether pos ends the game and why.
func Terminal(pos *Position) TerminalReason {
	if pos.game.Outcome() == chess.NoOutcome {
		return NotTerminal
	}
	switch pos.game.Method() {
	case chess.Checkmate:
		return Checkmate
	case chess.Stalemate:
		return Stalemate
	case chess.InsufficientMaterial:
		return InsufficientMaterial
	case chess.ThreefoldRepetition:
		return ThreefoldRepetition
	case chess.FiftyMoveRule:
		return FiftyMoveRule
	default:
		// Outcome is decisive/drawn but not yet one of the reasons we
		// label distinctly (e.g. a resignation recorded on the
		// underlying game object, which this engine never does —
		// resignation is handled by the Session, not the oracle).
		if pos.game.Outcome() == chess.Draw {
			return Stalemate
		}
		return Checkmate
	}
}

// Winner returns the winning color for a decisive terminal reason, or
// false for a draw / non-terminal position.
func Winner(pos *Position) (Color, bool) {
	switch pos.game.Outcome() {
	case chess.WhiteWon:
		return White, true
	case chess.BlackWon:
		return Black, true
	default:
		return "", false
	}
}

// History returns the SAN of every half-move played so far, in order.
func History(pos *Position) []string {
	out := make([]string, len(pos.history))
	copy(out, pos.history)
	return out
}

// FEN serializes pos to Forsyth-Edwards Notation.
func FEN(pos *Position) string {
	return pos.game.Position().String()
}

func pieceLetter(p chess.Piece) string {
	if p == chess.NoPiece {
		return ""
	}
	return fmt.Sprintf("%s", p.Type().String())
}

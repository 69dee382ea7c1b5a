package rules

import (
	"github.com/park285/Cheese-arena/internal/board"
	"github.com/park285/Cheese-arena/internal/domain"
)

// CheckedColor returns the color whose king is attacked after a move by
// mover, or "" when the opponent king is safe.
func CheckedColor(b *board.Board, mover domain.Color) domain.Color {
	target := mover.Opponent()
	k := b.King(target)
	if k == nil {
		return ""
	}
	if _, ok := Attackers(b, mover)[k.Square]; ok {
		return target
	}
	return ""
}

// Refresh is the outcome of recomputing both kings' caches after a move.
type Refresh struct {
	Kings map[domain.Color]*domain.KingThreatCache
	// Changed lists the pieces whose advisory pin changed.
	Changed []*domain.Piece
}

// RefreshKingCaches recomputes both king caches from the board and
// re-derives the advisory pins: a piece standing on a threatened square next
// to its own king is marked pinned by the attacker of that square.
func RefreshKingCaches(b *board.Board) Refresh {
	r := Refresh{Kings: make(map[domain.Color]*domain.KingThreatCache, 2)}
	pins := make(map[string]string)
	for _, c := range []domain.Color{domain.White, domain.Black} {
		k := b.King(c)
		if k == nil {
			continue
		}
		cache := ComputeKingCache(k, b)
		r.Kings[c] = cache
		if len(cache.Threatened) == 0 {
			continue
		}
		self := k.Square
		attackers := attackersIgnoring(b, c.Opponent(), &self)
		for _, sq := range cache.Threatened {
			occ := b.Occupant(sq)
			if occ == nil || occ.Color != c {
				continue
			}
			pins[occ.ID] = attackers[sq]
		}
	}
	for _, p := range b.ActivePieces() {
		want := pins[p.ID]
		if p.PinnedBy != want {
			p.PinnedBy = want
			r.Changed = append(r.Changed, p)
		}
	}
	return r
}

// Package chesspresenter turns domain values into wire DTOs and rejection
// codes into rendered client messages.
package chesspresenter

import (
	"github.com/park285/Cheese-arena/internal/msgcat"
	"github.com/park285/Cheese-arena/pkg/chessdto"
)

// Presenter renders rejection messages without coupling the match layer to templates.
type Presenter struct {
	cat *msgcat.Catalog
}

func NewPresenter(cat *msgcat.Catalog) *Presenter {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Presenter{cat: cat}
}

// Reject builds a DomainError whose message comes from reject.<code>.
func (p *Presenter) Reject(code string, data map[string]any) chessdto.DomainError {
	return chessdto.DomainError{Code: code, Message: p.cat.Reject(code, data)}
}

func (p *Presenter) InvalidMove(code string, data map[string]any) chessdto.Rejection {
	return chessdto.NewInvalidMove(p.Reject(code, data))
}

func (p *Presenter) Invalid(code string, data map[string]any) chessdto.Rejection {
	return chessdto.NewInvalid(p.Reject(code, data))
}

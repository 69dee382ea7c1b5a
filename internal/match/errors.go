package match

import "errors"

var (
	ErrMalformedMove   = errors.New("malformed move")
	ErrMatchNotOngoing = errors.New("match not ongoing")
	ErrNotInMatch      = errors.New("player not in match")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrNoPiece         = errors.New("no piece on square")
	ErrWrongColor      = errors.New("piece belongs to the opponent")
)

// rejection is a request refused for a client-visible reason. It is replied
// to the requester and never surfaces to the dispatcher.
type rejection struct {
	err  error
	code string
	data map[string]any
}

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

func reject(err error, code string, data map[string]any) *rejection {
	return &rejection{err: err, code: code, data: data}
}

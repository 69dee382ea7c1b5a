package chessdto

// Rejection reason codes carried by INVALID_MOVE and INVALID replies.
const (
	ReasonMalformed          = "MALFORMED"
	ReasonUnknownType        = "UNKNOWN_TYPE"
	ReasonNotInMatch         = "NOT_IN_MATCH"
	ReasonMatchNotOngoing    = "MATCH_NOT_ONGOING"
	ReasonNotYourTurn        = "NOT_YOUR_TURN"
	ReasonNoPiece            = "NO_PIECE"
	ReasonWrongColor         = "WRONG_COLOR"
	ReasonIllegalDestination = "ILLEGAL_DESTINATION"
)

// DomainError is a client-facing rejection. Code is one of the Reason constants.
type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess server error"
}

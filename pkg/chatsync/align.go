package chatsync

// Side is which edge of the conversation a message renders on.
type Side int

const (
	Left Side = iota
	Right
)

// Align maps a message to its side for a given viewer. Client-authored
// messages sit opposite staff-authored ones, and the mapping depends only
// on the immutable sender role, so a message never changes side once
// rendered.
func Align(m Message, viewer Role) Side {
	ownSide := m.SenderRole == viewer ||
		(m.SenderRole.Staff() && viewer.Staff())
	if ownSide {
		return Right
	}
	return Left
}

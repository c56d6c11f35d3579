package relay

import (
	"fmt"
)

// ErrorKind classifies a request failure reported back to the client.
type ErrorKind int

const (
	KindRoomNotFound ErrorKind = iota + 1
	KindRoomFull
	KindUnauthorized
	KindMalformedMessage
	KindRoomExists
	KindNoPlayer
)

func (k ErrorKind) String() string {
	switch k {
	case KindRoomNotFound:
		return "RoomNotFound"
	case KindRoomFull:
		return "RoomFull"
	case KindUnauthorized:
		return "Unauthorized"
	case KindMalformedMessage:
		return "MalformedMessage"
	case KindRoomExists:
		return "RoomExists"
	case KindNoPlayer:
		return "NoPlayer"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a recoverable request failure. Its message is sent verbatim to the
// originating connection. Two Errors match under errors.Is when their kinds match.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrRoomNotFound     = &Error{Kind: KindRoomNotFound, Msg: "Room not found"}
	ErrRoomFull         = &Error{Kind: KindRoomFull, Msg: "Room is full"}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized, Msg: "Only the host can start the game"}
	ErrMalformedMessage = &Error{Kind: KindMalformedMessage, Msg: "Malformed message"}
	ErrRoomExists       = &Error{Kind: KindRoomExists, Msg: "Room already exists"}
	ErrNoPlayer         = &Error{Kind: KindNoPlayer, Msg: "Player not set up"}
)

func malformedf(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedMessage, Msg: "Malformed message: " + fmt.Sprintf(format, args...)}
}

func unauthorizedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

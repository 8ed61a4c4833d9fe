package protocol

import "fmt"

// DecodeError reports an inbound frame that could not be turned into a message
type DecodeError struct {
	Type   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode envelope"
	if e.Type != "" {
		msg = fmt.Sprintf("decode %s", e.Type)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

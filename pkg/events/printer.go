package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PrinterFunc returns a watermill handler writing streamed replies to w as
// they arrive. Only events of sessionID are printed, all sessions when it
// is empty.
func PrinterFunc(name string, sessionID string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		if sessionID != "" && e.Metadata().SessionID != sessionID {
			return nil
		}

		switch p_ := e.(type) {
		case *EventStart:
			isFirst = true

		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: ", name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintln(w, "\n[interrupted]"); err != nil {
				return err
			}

		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}
		}

		return nil
	}
}

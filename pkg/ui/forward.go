package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/events"
)

// ChatForwardFunc is a watermill handler sending the events of sessionID
// to the program.
func ChatForwardFunc(p *tea.Program, sessionID string) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		if sessionID != "" && msg.Metadata.Get(events.MetadataKeySessionID) != sessionID {
			return nil
		}
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		p.Send(StreamMsg{Event: e})
		return nil
	}
}

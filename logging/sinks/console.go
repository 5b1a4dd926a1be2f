package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"dragons-keep/server/logging"
)

// ConsoleSink prints one human-readable line per event, led by the room and
// round it happened in:
//
//	DRGN-7F3A r2 INFO lifecycle.player_joined by player:p1 {"displayName":"Aria"}
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer, prefix string) *ConsoleSink {
	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += " "
	}
	return &ConsoleSink{logger: log.New(w, prefix, log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	s.logger.Print(formatLine(event))
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatLine(event logging.Event) string {
	var b strings.Builder
	if event.Room != "" {
		fmt.Fprintf(&b, "%s r%d ", event.Room, event.Round)
	}
	b.WriteString(strings.ToUpper(event.Severity.String()))
	b.WriteByte(' ')
	b.WriteString(string(event.Type))
	if actor := formatEntity(event.Actor); actor != "" {
		b.WriteString(" by ")
		b.WriteString(actor)
	}
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, formatEntity(target))
		}
		b.WriteString(" -> ")
		b.WriteString(strings.Join(parts, ","))
	}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			b.WriteByte(' ')
			b.Write(data)
		} else {
			fmt.Fprintf(&b, " %v", event.Payload)
		}
	}
	return b.String()
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/network"
	"github.com/wfunc/planningpoker/services"
)

const help = `commands:
  card <label>     pick a card
  clear            clear your card
  reveal | hide | toggle | reset
  kick <name>      remove a participant (owner only)
  deck <a,b,c>     replace the deck (owner only)
  leave            leave the room
  quit`

var errQuit = fmt.Errorf("quit")

// parseCommand turns one line of input into a packet.
func parseCommand(line string) (uint16, interface{}, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "card":
		if arg == "" {
			return 0, nil, fmt.Errorf("usage: card <label>")
		}
		return network.MsgTypeSetCard, network.SetCardRequest{Card: arg}, nil
	case "clear":
		return network.MsgTypeClearCard, nil, nil
	case "reveal":
		return network.MsgTypeReveal, nil, nil
	case "hide":
		return network.MsgTypeHide, nil, nil
	case "toggle":
		return network.MsgTypeToggleReveal, nil, nil
	case "reset":
		return network.MsgTypeResetRound, nil, nil
	case "kick":
		if arg == "" {
			return 0, nil, fmt.Errorf("usage: kick <name>")
		}
		return network.MsgTypeKick, network.KickRequest{Name: arg}, nil
	case "deck":
		return network.MsgTypeUpdateDeck, network.UpdateDeckRequest{Labels: models.ParseDeck(arg)}, nil
	case "leave":
		return network.MsgTypeLeaveRoom, nil, nil
	case "quit", "exit":
		return 0, nil, errQuit
	case "", "help":
		return 0, nil, fmt.Errorf("%s", help)
	}
	return 0, nil, fmt.Errorf("unknown command %q\n%s", verb, help)
}

// render formats a pushed packet for the terminal.
func render(p *network.Packet) string {
	switch p.MsgID {
	case network.MsgTypeRoomState:
		var rep services.Report
		if err := json.Unmarshal(p.Data, &rep); err != nil {
			return fmt.Sprintf("bad room state: %v", err)
		}
		return renderReport(rep)
	case network.MsgTypeKicked:
		return "you were removed from the room"
	case network.MsgTypeError:
		var msg network.ErrorMessage
		if err := json.Unmarshal(p.Data, &msg); err != nil {
			return fmt.Sprintf("bad error message: %v", err)
		}
		return fmt.Sprintf("error (%s): %s", msg.Code, msg.Message)
	}
	return fmt.Sprintf("message %d: %s", p.MsgID, p.Data)
}

func renderReport(rep services.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "room %s [%s] owner=%s\n", rep.Room.ID, rep.Phase, rep.Room.Owner)
	fmt.Fprintf(&b, "deck: %s\n", strings.Join(rep.Room.Deck, " "))
	for _, p := range rep.Participants {
		card := "-"
		switch {
		case p.HasCard() && rep.Phase.Revealed():
			card = p.Card
		case p.HasCard():
			card = "✓"
		}
		fmt.Fprintf(&b, "  %-20s %s\n", p.Name, card)
	}
	if rep.Average != nil {
		fmt.Fprintf(&b, "average: %s\n", *rep.Average)
	}
	if n := len(rep.Room.History); n > 0 {
		last := rep.Room.History[0]
		names := make([]string, 0, len(last.Cards))
		for name := range last.Cards {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+last.Cards[name])
		}
		fmt.Fprintf(&b, "last round (%d total): %s\n", n, strings.Join(parts, " "))
	}
	return strings.TrimRight(b.String(), "\n")
}

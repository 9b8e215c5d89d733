package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perp-grid-bot-go/internal/models"
)

// EventType defines the type of an engine event
type EventType int

const (
	TickEvent EventType = iota
	PriceEvent
	FillEvent
	CommandEvent
)

func (t EventType) String() string {
	switch t {
	case TickEvent:
		return "tick"
	case PriceEvent:
		return "price"
	case FillEvent:
		return "fill"
	case CommandEvent:
		return "command"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is the single unit of work on the engine queue. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type    EventType
	Time    time.Time
	Price   models.PriceTick
	Fill    models.FillEvent
	Command Command
	reply   chan string
}

// CommandKind enumerates operator commands.
type CommandKind int

const (
	CmdHelp CommandKind = iota
	CmdStatus
	CmdReport
	CmdPause
	CmdResume
	CmdPreset
	CmdRange
	CmdPair
	CmdPanic
	CmdReset
)

var commandNames = map[CommandKind]string{
	CmdHelp:   "help",
	CmdStatus: "status",
	CmdReport: "report",
	CmdPause:  "pause",
	CmdResume: "resume",
	CmdPreset: "preset",
	CmdRange:  "range",
	CmdPair:   "pair",
	CmdPanic:  "panic",
	CmdReset:  "reset",
}

func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Range command modes.
const (
	RangeManual = "manual"
	RangeAuto   = "auto"
	RangeOff    = "off"
)

// Command is a parsed operator command.
type Command struct {
	Kind      CommandKind
	Preset    string
	RangeMode string
	RangeMin  float64
	RangeMax  float64
	Pair      string
}

var ErrUnknownCommand = errors.New("unknown command")

// HelpText lists the console commands.
const HelpText = `commands:
  status                 show the status table
  report                 session report (round trips, drawdown)
  pause | stop           pause trading (orders stay, no counters)
  resume | start         resume trading
  preset <name>          apply a preset and rebuild the grid
  range <min> <max>      fixed range grid
  range auto | off       range from the 24h high/low, or back to spacing mode
  pair <SYMBOL>          flatten, switch pair and rebuild
  panic                  emergency exit: cancel all and flatten
  reset                  clear an emergency (stays paused until resume)
  help                   this text`

// ParseCommand accepts console and chat forms: "/pause", "stop", "/start",
// "preset aggressive", "range 90 110", "pair solusdt".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty input", ErrUnknownCommand)
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch verb {
	case "help", "h", "?":
		return Command{Kind: CmdHelp}, nil
	case "status", "s":
		return Command{Kind: CmdStatus}, nil
	case "report", "stats":
		return Command{Kind: CmdReport}, nil
	case "pause", "stop":
		return Command{Kind: CmdPause}, nil
	case "resume", "start":
		return Command{Kind: CmdResume}, nil
	case "panic", "kill":
		return Command{Kind: CmdPanic}, nil
	case "reset":
		return Command{Kind: CmdReset}, nil
	case "preset":
		if len(args) != 1 {
			return Command{}, errors.New("usage: preset <name>")
		}
		return Command{Kind: CmdPreset, Preset: strings.ToUpper(args[0])}, nil
	case "pair":
		if len(args) != 1 {
			return Command{}, errors.New("usage: pair <SYMBOL>")
		}
		return Command{Kind: CmdPair, Pair: strings.ToUpper(args[0])}, nil
	case "range":
		return parseRange(args)
	}
	return Command{}, fmt.Errorf("%w: %q (try help)", ErrUnknownCommand, fields[0])
}

func parseRange(args []string) (Command, error) {
	usage := errors.New("usage: range <min> <max> | range auto | range off")
	switch len(args) {
	case 1:
		switch strings.ToLower(args[0]) {
		case RangeAuto:
			return Command{Kind: CmdRange, RangeMode: RangeAuto}, nil
		case RangeOff:
			return Command{Kind: CmdRange, RangeMode: RangeOff}, nil
		}
		return Command{}, usage
	case 2:
		lo, err1 := strconv.ParseFloat(args[0], 64)
		hi, err2 := strconv.ParseFloat(args[1], 64)
		if err1 != nil || err2 != nil {
			return Command{}, usage
		}
		if lo <= 0 || hi <= lo {
			return Command{}, fmt.Errorf("range needs 0 < min < max, got %v %v", lo, hi)
		}
		return Command{Kind: CmdRange, RangeMode: RangeManual, RangeMin: lo, RangeMax: hi}, nil
	}
	return Command{}, usage
}

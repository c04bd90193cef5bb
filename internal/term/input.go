package term

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Key identifies a parsed key press.
type Key int

const (
	KeyRune Key = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
)

// MouseButton identifies the button of a mouse event.
type MouseButton int

const (
	MouseLeft MouseButton = iota
	MouseMiddle
	MouseRight
	MouseWheelUp
	MouseWheelDown
)

// Event is one decoded input event.
type Event struct {
	Key   Key
	Rune  rune
	Mouse bool
	X, Y  int // 0-based screen coordinates
	Btn   MouseButton
	Drag  bool
	Up    bool
}

// PollInterval bounds every blocking wait in the UI loop so resizes and
// worker updates are observed promptly.
const PollInterval = 100 * time.Millisecond

// InputReader decodes terminal input bytes into events on a channel.
type InputReader struct {
	port   Port
	Events chan Event
	stop   chan struct{}
}

// NewInputReader starts the reader goroutine.
func NewInputReader(port Port) *InputReader {
	r := &InputReader{
		port:   port,
		Events: make(chan Event, 64),
		stop:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Stop terminates the reader.
func (r *InputReader) Stop() {
	close(r.stop)
}

func (r *InputReader) loop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		n, err := r.port.Read(buf)
		if err != nil {
			// Terminal closed: stop producing events.
			return
		}
		for _, ev := range DecodeInput(buf[:n]) {
			select {
			case r.Events <- ev:
			case <-r.stop:
				return
			}
		}
	}
}

// DecodeInput parses raw terminal bytes into events. Unrecognised
// escape sequences are dropped.
func DecodeInput(data []byte) []Event {
	var events []Event
	s := string(data)
	for len(s) > 0 {
		if s[0] != 0x1b {
			r, size := decodeRune(s)
			s = s[size:]
			switch r {
			case '\r', '\n':
				events = append(events, Event{Key: KeyEnter})
			case '\t':
				events = append(events, Event{Key: KeyTab})
			case 0x7f, '\b':
				events = append(events, Event{Key: KeyBackspace})
			default:
				if r >= ' ' {
					events = append(events, Event{Key: KeyRune, Rune: r})
				}
			}
			continue
		}

		// Escape sequences.
		if strings.HasPrefix(s, "\x1b[<") {
			if ev, rest, ok := decodeSGRMouse(s); ok {
				events = append(events, ev)
				s = rest
				continue
			}
		}
		switch {
		case strings.HasPrefix(s, "\x1b[A"):
			events = append(events, Event{Key: KeyUp})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[B"):
			events = append(events, Event{Key: KeyDown})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[C"):
			events = append(events, Event{Key: KeyRight})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[D"):
			events = append(events, Event{Key: KeyLeft})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[H"):
			events = append(events, Event{Key: KeyHome})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[F"):
			events = append(events, Event{Key: KeyEnd})
			s = s[3:]
		case strings.HasPrefix(s, "\x1b[5~"):
			events = append(events, Event{Key: KeyPageUp})
			s = s[4:]
		case strings.HasPrefix(s, "\x1b[6~"):
			events = append(events, Event{Key: KeyPageDown})
			s = s[4:]
		case len(s) == 1:
			events = append(events, Event{Key: KeyEscape})
			s = ""
		default:
			// Unknown CSI: skip to its final byte.
			if strings.HasPrefix(s, "\x1b[") {
				i := 2
				for i < len(s) && (s[i] < 0x40 || s[i] > 0x7e) {
					i++
				}
				if i < len(s) {
					i++
				}
				s = s[i:]
			} else {
				events = append(events, Event{Key: KeyEscape})
				s = s[1:]
			}
		}
	}
	return events
}

// decodeSGRMouse parses "\x1b[<b;x;yM" (press/drag) or "...m" (release).
func decodeSGRMouse(s string) (Event, string, bool) {
	end := strings.IndexAny(s[3:], "Mm")
	if end < 0 {
		return Event{}, s, false
	}
	final := s[3+end]
	parts := strings.Split(s[3:3+end], ";")
	if len(parts) != 3 {
		return Event{}, s, false
	}
	b, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Event{}, s, false
	}

	ev := Event{Mouse: true, X: x - 1, Y: y - 1, Up: final == 'm'}
	switch {
	case b&64 != 0:
		if b&1 != 0 {
			ev.Btn = MouseWheelDown
		} else {
			ev.Btn = MouseWheelUp
		}
	case b&3 == 1:
		ev.Btn = MouseMiddle
	case b&3 == 2:
		ev.Btn = MouseRight
	default:
		ev.Btn = MouseLeft
	}
	ev.Drag = b&32 != 0
	return ev, s[3+end+1:], true
}

func decodeRune(s string) (rune, int) {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return 0, 1
	}
	return r, size
}

// Mouse reporting control sequences (SGR 1006 + button tracking 1002).
const (
	EnableMouse  = "\x1b[?1002h\x1b[?1006h"
	DisableMouse = "\x1b[?1006l\x1b[?1002l"
	EnterAltScreen = "\x1b[?1049h\x1b[?25l"
	ExitAltScreen  = "\x1b[?25h\x1b[?1049l"
)

package protocol

import (
	"github.com/tidwall/gjson"
)

// Event is a click event sent by the bar.
type Event struct {
	Name      string   `json:"name"`
	Instance  string   `json:"instance,omitempty"`
	Button    int      `json:"button"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	RelativeX int      `json:"relative_x"`
	RelativeY int      `json:"relative_y"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// ParseEvent decodes one line of the click event stream. Leading commas
// and whitespace are tolerated. The opening "[" and blank lines return
// ok == false with no error.
func ParseEvent(line []byte) (ev Event, ok bool, err error) {
	line = trimLine(line)
	if len(line) == 0 || string(line) == "[" || string(line) == "]" {
		return Event{}, false, nil
	}
	if !gjson.ValidBytes(line) {
		return Event{}, false, &Error{Line: string(line), Msg: "invalid click event"}
	}
	res := gjson.ParseBytes(line)
	if !res.IsObject() {
		return Event{}, false, &Error{Line: string(line), Msg: "click event is not an object"}
	}

	ev = Event{
		Name:      res.Get("name").String(),
		Instance:  res.Get("instance").String(),
		Button:    int(res.Get("button").Int()),
		X:         int(res.Get("x").Int()),
		Y:         int(res.Get("y").Int()),
		RelativeX: int(res.Get("relative_x").Int()),
		RelativeY: int(res.Get("relative_y").Int()),
		Width:     int(res.Get("width").Int()),
		Height:    int(res.Get("height").Int()),
	}
	res.Get("modifiers").ForEach(func(_, m gjson.Result) bool {
		ev.Modifiers = append(ev.Modifiers, m.String())
		return true
	})
	return ev, true, nil
}

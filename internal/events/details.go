// internal/events/details.go
package events

import "github.com/xkilldash9x/domcore/internal/dom"

// Modifiers are the keyboard modifier states shared by mouse and keyboard
// events.
type Modifiers struct {
	Ctrl  bool `json:"ctrlKey,omitempty"`
	Shift bool `json:"shiftKey,omitempty"`
	Alt   bool `json:"altKey,omitempty"`
	Meta  bool `json:"metaKey,omitempty"`
}

type MouseDetail struct {
	Modifiers
	ClientX int    `json:"clientX"`
	ClientY int    `json:"clientY"`
	ScreenX int    `json:"screenX"`
	ScreenY int    `json:"screenY"`
	Button  int16  `json:"button"`
	Buttons uint16 `json:"buttons"`
}

// WheelDetail extends a mouse event with scroll deltas. DeltaMode is 0 for
// pixels, 1 for lines and 2 for pages.
type WheelDetail struct {
	MouseDetail
	DeltaX    float64 `json:"deltaX"`
	DeltaY    float64 `json:"deltaY"`
	DeltaZ    float64 `json:"deltaZ"`
	DeltaMode uint32  `json:"deltaMode"`
}

type KeyboardDetail struct {
	Modifiers
	Key      string `json:"key"`
	Code     string `json:"code"`
	Location uint32 `json:"location"`
	Repeat   bool   `json:"repeat,omitempty"`
}

type FocusDetail struct {
	RelatedTarget dom.Handle `json:"relatedTarget"`
}

type InputDetail struct {
	Data        string `json:"data,omitempty"`
	InputType   string `json:"inputType"`
	IsComposing bool   `json:"isComposing,omitempty"`
}

type CompositionDetail struct {
	Data string `json:"data"`
}

// DetailAs returns the event detail as a T.
func DetailAs[T any](e *Event) (T, bool) {
	d, ok := e.Detail().(T)
	return d, ok
}

// Package emotion defines the closed set of labels the classifier predicts.
//
// Label values are indices into the model output vector, so the order of the
// constants below must match the classification head.
package emotion

import (
	"fmt"
	"strings"
)

// Label is one of the eight emotion classes.
type Label int

const (
	Angry Label = iota
	Calm
	Disgust
	Fearful
	Happy
	Neutral
	Sad
	Surprised
)

// Count is the number of labels and the length of every probability vector.
const Count = int(Surprised) + 1

// Display holds the presentation attributes of a label.
type Display struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Emoji string `json:"emoji"`
	Color string `json:"color"`
}

// Indexed by Label; a key outside [0, Count) fails to compile.
var displays = [Count]Display{
	Angry:     {Name: "angry", Title: "Angry", Emoji: "😠", Color: "#ff4757"},
	Calm:      {Name: "calm", Title: "Calm", Emoji: "😌", Color: "#2ed573"},
	Disgust:   {Name: "disgust", Title: "Disgust", Emoji: "🤢", Color: "#ff6b35"},
	Fearful:   {Name: "fearful", Title: "Fearful", Emoji: "😨", Color: "#5352ed"},
	Happy:     {Name: "happy", Title: "Happy", Emoji: "😊", Color: "#ffc048"},
	Neutral:   {Name: "neutral", Title: "Neutral", Emoji: "😐", Color: "#747d8c"},
	Sad:       {Name: "sad", Title: "Sad", Emoji: "😢", Color: "#3742fa"},
	Surprised: {Name: "surprised", Title: "Surprised", Emoji: "😲", Color: "#ff3838"},
}

// All returns every label in model output order.
func All() []Label {
	labels := make([]Label, Count)
	for i := range labels {
		labels[i] = Label(i)
	}
	return labels
}

// Valid reports whether l is one of the eight labels.
func (l Label) Valid() bool {
	return l >= 0 && int(l) < Count
}

// Index returns the position of the label in the probability vector.
func (l Label) Index() int { return int(l) }

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return displays[l].Name
}

func (l Label) Title() string { return l.Display().Title }
func (l Label) Emoji() string { return l.Display().Emoji }
func (l Label) Color() string { return l.Display().Color }

// Display returns the presentation attributes, or a neutral placeholder for invalid labels.
func (l Label) Display() Display {
	if !l.Valid() {
		return Display{Name: l.String(), Title: l.String(), Emoji: "❔", Color: "#747d8c"}
	}
	return displays[l]
}

// Parse resolves a label name, ignoring case and surrounding whitespace.
func Parse(name string) (Label, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i := range displays {
		if displays[i].Name == n {
			return Label(i), nil
		}
	}
	return -1, fmt.Errorf("unknown emotion label %q", name)
}

// MarshalText encodes the label as its lower-case name.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid emotion label %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a label name.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

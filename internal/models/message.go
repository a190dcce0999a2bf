package models

// Button is an inline control. Data is delivered back as the payload of a button press;
// a button with a URL opens the link instead.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Row builds a keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// Column lays out each button on its own row.
func Column(buttons ...Button) Keyboard {
	kb := make(Keyboard, 0, len(buttons))
	for _, b := range buttons {
		kb = append(kb, []Button{b})
	}
	return kb
}

// OutMessage is transport-neutral outbound content.
type OutMessage struct {
	Text     string   `json:"text"`
	Keyboard Keyboard `json:"keyboard,omitempty"`
	// MainMenu asks the transport to attach the persistent reply keyboard.
	MainMenu bool `json:"main_menu,omitempty"`
	// Replace asks the transport to edit the message the triggering button was attached to.
	Replace bool `json:"replace,omitempty"`
}

// Text is a convenience constructor for a plain message.
func Text(s string) OutMessage {
	return OutMessage{Text: s}
}

// Package channel is the boundary to the device-bound messaging session that
// actually delivers messages. The queue only needs two capabilities from it:
// knowing whether a device session is usable and sending one message.
package channel

import "errors"

// ErrUnavailable means the session for a device is missing or disconnected.
// Sends failing with it were rejected before reaching the network.
var ErrUnavailable = errors.New("channel: session unavailable")

type Media struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Message is the resolved outbound payload for one recipient.
type Message struct {
	Text  string `json:"text,omitempty"`
	Media *Media `json:"media,omitempty"`
}

func (m Message) Empty() bool {
	return m.Text == "" && (m.Media == nil || m.Media.URL == "")
}

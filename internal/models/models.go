package models

import (
	"strings"
	"time"
)

// TimeLayout is the wall-clock format used for last change timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Site is a monitored target. URL is normalized once at construction and is
// the identity of the site everywhere else.
type Site struct {
	URL        string
	LastChange string
}

// NewSite builds a Site from user input.
func NewSite(raw string) Site {
	return Site{URL: NormalizeURL(raw)}
}

// NormalizeURL prefixes http:// when the input carries neither http:// nor
// https://. Nothing else is rewritten, in particular no case folding.
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "http://" + raw
}

// Observation is published once per site per cycle.
type Observation struct {
	Cycle      string        `json:"cycle"`
	URL        string        `json:"url"`
	Online     bool          `json:"online"`
	Changed    bool          `json:"changed"`
	LastChange string        `json:"last_change,omitempty"`
	Latency    time.Duration `json:"latency"`
	At         time.Time     `json:"at"`
}

func (o Observation) Status() string {
	if o.Online {
		return "Online"
	}
	return "Offline"
}

func (o Observation) ChangedLabel() string {
	if o.Changed {
		return "Yes"
	}
	return "No"
}

// LastChangeLabel returns the last change time or N/A.
func (o Observation) LastChangeLabel() string {
	if o.LastChange == "" {
		return "N/A"
	}
	return o.LastChange
}

// AlertRecord is one delivery attempt of an offline alert to one recipient.
type AlertRecord struct {
	URL       string    `json:"url"`
	Recipient string    `json:"recipient"`
	Transport string    `json:"transport"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (a AlertRecord) Delivered() bool { return a.Error == "" }

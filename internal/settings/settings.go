package settings

import (
	"fmt"
	"strings"
)

// FetchStrategy is how a push wake is turned into a fetch.
type FetchStrategy string

const (
	FetchWebsocket FetchStrategy = "websocket" // hold the connection open with a lease
	FetchREST      FetchStrategy = "rest"      // run a one-shot fetch job
)

// ParseFetchStrategy maps a configured value to a strategy. Unknown values
// fall back to FetchWebsocket.
func ParseFetchStrategy(s string) FetchStrategy {
	switch FetchStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case FetchREST:
		return FetchREST
	default:
		return FetchWebsocket
	}
}

// Settings is the on-disk account state.
type Settings struct {
	Registered     bool         `yaml:"registered"`
	Locked         bool         `yaml:"locked"`
	ForceWebsocket bool         `yaml:"force_websocket"`
	Censored       bool         `yaml:"censored"` // direct endpoint blocked in this region
	Proxy          string       `yaml:"proxy"`    // non-empty when traffic goes through a proxy
	Push           PushSettings `yaml:"push"`
}

// PushSettings describes the out-of-band push channel.
type PushSettings struct {
	Endpoint      string        `yaml:"endpoint"` // empty = push not configured
	FetchStrategy FetchStrategy `yaml:"fetch_strategy"`
}

// PushEnabled reports whether a push endpoint is registered.
func (s Settings) PushEnabled() bool {
	return s.Push.Endpoint != ""
}

// IsCensored reports whether the connection cannot be used at all. A proxy
// routes around the block.
func (s Settings) IsCensored() bool {
	return s.Censored && s.Proxy == ""
}

// Normalize fills derived defaults.
func (s *Settings) Normalize() {
	s.Push.FetchStrategy = ParseFetchStrategy(string(s.Push.FetchStrategy))
}

func (s Settings) String() string {
	return fmt.Sprintf("registered=%t locked=%t push=%t strategy=%s force_websocket=%t censored=%t proxy=%t",
		s.Registered, s.Locked, s.PushEnabled(), s.Push.FetchStrategy, s.ForceWebsocket, s.Censored, s.Proxy != "")
}

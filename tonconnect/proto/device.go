package proto

import (
	"encoding/json"
	"fmt"
)

// Platform identifies the host the wallet runs on. Closed set.
type Platform string

const (
	PlatformMac          Platform = "mac"
	PlatformIPhone       Platform = "iphone"
	PlatformIPad         Platform = "ipad"
	PlatformWindows      Platform = "windows"
	PlatformLinux        Platform = "linux"
	PlatformUndetermined Platform = "undetermined"
)

// DeviceInfo describes the wallet's platform, version and supported
// features. Sent to the dapp during the connection handshake.
type DeviceInfo struct {
	Platform           Platform  `json:"platform"`
	AppName            string    `json:"appName"`
	AppVersion         string    `json:"appVersion"`
	MaxProtocolVersion int       `json:"maxProtocolVersion"`
	Features           []Feature `json:"features"`
}

// Feature is one entry of DeviceInfo.Features. Early protocol revisions
// listed features as bare strings; current ones use an object carrying
// limits. Legacy marks entries that must round-trip as bare strings.
type Feature struct {
	Name        string `json:"name"`
	MaxMessages int    `json:"maxMessages,omitempty"`
	Legacy      bool   `json:"-"`
}

// MarshalJSON renders legacy features as plain strings and structured ones
// as objects.
func (f Feature) MarshalJSON() ([]byte, error) {
	if f.Legacy {
		return json.Marshal(f.Name)
	}
	type alias Feature
	return json.Marshal(alias(f))
}

// UnmarshalJSON accepts both the bare-string and the object encoding.
func (f *Feature) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*f = Feature{Name: name, Legacy: true}
		return nil
	}
	type alias Feature
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("feature: %w", err)
	}
	*f = Feature(a)
	return nil
}

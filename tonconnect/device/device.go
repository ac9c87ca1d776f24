// Package device computes the wallet's device descriptor advertised during
// the TonConnect handshake.
package device

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// Config describes the embedding wallet application.
type Config struct {
	AppName     string
	AppVersion  string
	MaxMessages int // sendTransaction batch limit
}

// Provider returns a descriptor function that recomputes DeviceInfo on
// every call. Descriptors are never cached: the handshake must reflect
// current host state.
func Provider(cfg Config) func() proto.DeviceInfo {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 4
	}
	return func() proto.DeviceInfo {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		platform := ""
		if info, err := host.InfoWithContext(ctx); err == nil {
			platform = info.Platform
		}
		return describe(runtime.GOOS, platform, cfg)
	}
}

func describe(goos, platform string, cfg Config) proto.DeviceInfo {
	return proto.DeviceInfo{
		Platform:           detectPlatform(goos, platform),
		AppName:            cfg.AppName,
		AppVersion:         cfg.AppVersion,
		MaxProtocolVersion: proto.Version,
		Features: []proto.Feature{
			{Name: "SendTransaction", Legacy: true},
			{Name: "SendTransaction", MaxMessages: cfg.MaxMessages},
			{Name: "SignData"},
		},
	}
}

func detectPlatform(goos, platform string) proto.Platform {
	switch goos {
	case "darwin":
		return proto.PlatformMac
	case "ios":
		if strings.Contains(strings.ToLower(platform), "ipad") {
			return proto.PlatformIPad
		}
		return proto.PlatformIPhone
	case "windows":
		return proto.PlatformWindows
	case "linux", "android":
		return proto.PlatformLinux
	default:
		return proto.PlatformUndetermined
	}
}

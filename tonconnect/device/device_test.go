package device

import (
	"testing"

	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		goos     string
		platform string
		want     proto.Platform
	}{
		{"darwin", "darwin", proto.PlatformMac},
		{"ios", "iPhone OS", proto.PlatformIPhone},
		{"ios", "iPadOS", proto.PlatformIPad},
		{"windows", "Microsoft Windows 11 Pro", proto.PlatformWindows},
		{"linux", "ubuntu", proto.PlatformLinux},
		{"android", "", proto.PlatformLinux},
		{"plan9", "", proto.PlatformUndetermined},
	}
	for _, tt := range tests {
		if got := detectPlatform(tt.goos, tt.platform); got != tt.want {
			t.Fatalf("detectPlatform(%q, %q) = %q; want %q", tt.goos, tt.platform, got, tt.want)
		}
	}
}

func TestDescribeFeatures(t *testing.T) {
	info := describe("linux", "debian", Config{AppName: "tonbridge", AppVersion: "1.2.3", MaxMessages: 8})
	if info.MaxProtocolVersion != proto.Version {
		t.Fatalf("max protocol version = %d; want %d", info.MaxProtocolVersion, proto.Version)
	}
	if len(info.Features) != 3 {
		t.Fatalf("got %d features", len(info.Features))
	}
	if !info.Features[0].Legacy {
		t.Fatalf("first feature must keep the legacy string form")
	}
	if info.Features[1].MaxMessages != 8 {
		t.Fatalf("maxMessages = %d; want 8", info.Features[1].MaxMessages)
	}
}

func TestProviderDefaultsBatchLimit(t *testing.T) {
	p := Provider(Config{AppName: "tonbridge", AppVersion: "dev"})
	info := p()
	if info.Features[1].MaxMessages != 4 {
		t.Fatalf("default maxMessages = %d; want 4", info.Features[1].MaxMessages)
	}
}

package engine

import (
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
)

// Client identity.
const (
	ClientCode = "LE"
	ClientName = "load-el"
)

// Capabilities advertised beyond the served methods.
const (
	CapabilityBlobs      = "load.blobs.1024"
	CapabilityPrevRandao = "load.prev_randao.0x01"
)

// ClientSemver and GitCommit are set at link time with -ldflags -X.
var (
	ClientSemver = "0.1.0"
	GitCommit    = ""
)

func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

func shortCommit() string {
	c := commit()
	if len(c) > 8 {
		c = c[:8]
	}
	if c == "" {
		return "unknown"
	}
	return c
}

// ClientVersionString returns the web3_clientVersion string,
// load-el/v<version>-<short sha>.
func ClientVersionString() string {
	return fmt.Sprintf("%s/v%s-%s", ClientName, ClientSemver, shortCommit())
}

// ClientVersion returns the engine_getClientVersionV1 entry.
func ClientVersion() ClientVersionV1 {
	c := commit()
	if c == "" {
		c = "0x0"
	} else if !strings.HasPrefix(c, "0x") {
		c = "0x" + c
	}
	return ClientVersionV1{
		Code:    ClientCode,
		Name:    ClientName,
		Version: ClientVersionString(),
		Commit:  c,
	}
}

// Capabilities returns the engine_exchangeCapabilities answer: every
// method and capability string load-el advertises, merged with the peer's
// list, sorted and deduplicated.
func Capabilities(peer []string) []string {
	caps := ServedMethods()
	caps = append(caps, peer...)
	caps = append(caps,
		"engine_exchangeCapabilities",
		"engine_getClientVersionV1",
		CapabilityBlobs,
		CapabilityPrevRandao,
		ClientVersionString(),
	)
	slices.Sort(caps)
	return slices.Compact(caps)
}

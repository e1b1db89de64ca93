package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfoFillsDefaults(t *testing.T) {
	i := Info{Version: "dev", Commit: "none", BuildDate: "unknown"}
	i.fromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	assert.Equal(t, "v0.4.0", i.Version)
	assert.Equal(t, "2026-10-01T12:00:00Z", i.BuildDate)
	assert.Equal(t, "v0.4.0 (0123456, modified)", i.Short())
}

func TestFromBuildInfoKeepsLinkerValues(t *testing.T) {
	i := Info{Version: "v1.2.3", Commit: "abc", BuildDate: "yesterday"}
	i.fromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "fff"}},
	})
	assert.Equal(t, "v1.2.3", i.Version)
	assert.Equal(t, "v1.2.3 (abc)", i.Short())
	assert.Equal(t, "v1.2.3", Info{Version: "v1.2.3", Commit: "none"}.Short())
}

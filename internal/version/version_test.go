package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	defer func(v, c string) { Version, GitCommit = v, c }(Version, GitCommit)

	Version, GitCommit = "v1.2.0", "unknown"
	assert.Equal(t, "v1.2.0", Short())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, "v1.2.0 (0123456)", Short())
	assert.True(t, strings.HasPrefix(UserAgent(), "positionctl/v1.2.0 (0123456)"))
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Service, info.Service)
	assert.Equal(t, GoVersion, info.GoVersion)
	assert.Contains(t, String(), "Version: "+info.Version)
}

package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		info    *Info
		version string
		date    string
		commit  string
	}{
		{"nil info", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty fields", New("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"pre-release", New("1.2.0-rc.1", "2025-06-01", "a1b2c3d"), "1.2.0-rc.1", "2025-06-01", "a1b2c3d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.info.GetVersion())
			assert.Equal(t, tt.date, tt.info.GetBuildDate())
			assert.Equal(t, tt.commit, tt.info.GetCommit())
		})
	}
}

func TestInfoFormatting(t *testing.T) {
	t.Parallel()

	i := New("1.0.0", "2025-06-01", "")
	assert.Equal(t, "trackwatch@1.0.0", i.Release())
	assert.Equal(t, "1.0.0 (commit unknown, built 2025-06-01)", i.String())

	var nilInfo *Info
	assert.Equal(t, "trackwatch@unknown", nilInfo.Release())
}

package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	require.NotEmpty(t, info.Version)
	require.NotEmpty(t, info.Commit)
	require.Equal(t, runtime.Version(), info.GoVersion)
	require.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestInfoStrings(t *testing.T) {
	tests := []struct {
		name      string
		info      Info
		wantLong  string
		wantShort string
	}{
		{
			name:      "clean",
			info:      Info{Version: "1.2.3", Commit: "abc123", Date: "2025-01-01"},
			wantLong:  "1.2.3 (abc123) built 2025-01-01",
			wantShort: "1.2.3",
		},
		{
			name:      "dirty",
			info:      Info{Version: "1.2.3", Commit: "abc123", Date: "2025-01-01", Dirty: true},
			wantLong:  "1.2.3 (abc123-dirty) built 2025-01-01",
			wantShort: "1.2.3-dirty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantLong, tt.info.String())
			require.Equal(t, tt.wantShort, tt.info.Short())
		})
	}
}

func TestUserAgent(t *testing.T) {
	info := Info{Version: "0.4.0", Platform: "linux/amd64"}
	require.Equal(t, "Ledger-Webhook/0.4.0 (linux/amd64)", info.UserAgent("Ledger-Webhook"))
}

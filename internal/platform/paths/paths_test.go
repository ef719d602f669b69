package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoots(t *testing.T) {
	// 1. resolves default roots when no overrides are set
	os.Unsetenv("MONITOR_DATA_ROOT")
	os.Unsetenv("MONITOR_MEDIA_ROOT")
	assert.Equal(t, DefaultDataRoot, ResolveDataRoot())
	assert.Equal(t, DefaultMediaRoot, ResolveMediaRoot())

	os.Setenv("MONITOR_DATA_ROOT", "/srv/monitor-data")
	os.Setenv("MONITOR_MEDIA_ROOT", "/srv/monitor-media")
	defer os.Unsetenv("MONITOR_DATA_ROOT")
	defer os.Unsetenv("MONITOR_MEDIA_ROOT")
	assert.Equal(t, "/srv/monitor-data", ResolveDataRoot())
	assert.Equal(t, "/srv/monitor-media", ResolveMediaRoot())
}

func TestResolveConfigPath(t *testing.T) {
	os.Setenv("MONITOR_DATA_ROOT", "/srv/monitor-data")
	defer os.Unsetenv("MONITOR_DATA_ROOT")

	assert.Equal(t, "/custom/config.yaml", ResolveConfigPath("/custom/config.yaml"))
	assert.Equal(t, "/srv/monitor-data/config/default.yaml", ResolveConfigPath(""))
}

func TestSafeJoin(t *testing.T) {
	base := "/var/lib/ts-monitor/media"

	// 2. rejects path traversal attempts
	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"events", "evt-1", "0.jpg"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"live", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "monitor_test_data")
	os.Setenv("MONITOR_DATA_ROOT", tmpRoot)
	defer os.Unsetenv("MONITOR_DATA_ROOT")
	defer os.RemoveAll(tmpRoot)

	// 3. creates required data subdirectories
	err := EnsureDirs()
	assert.NoError(t, err)

	subdirs := []string{"config", "logs", "spool", "media/events", "media/live"}
	for _, sub := range subdirs {
		_, err := os.Stat(filepath.Join(tmpRoot, sub))
		assert.NoError(t, err, "subdirectory %s should exist", sub)
	}
}

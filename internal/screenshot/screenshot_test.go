package screenshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 5, 0, time.UTC)
	tests := []struct {
		url  string
		want string
	}{
		{"https://sirepo.example.org/", "screenshot-20240501-083005-sirepo_example_org.png"},
		{"https://sirepo.example.org:8443/srw", "screenshot-20240501-083005-sirepo_example_org_8443_srw.png"},
		{"http://10.0.0.5/a/b?x=1", "screenshot-20240501-083005-10_0_0_5_a_b.png"},
		{"///", "screenshot-20240501-083005-image.png"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			require.Equal(t, tt.want, FileName(tt.url, at))
		})
	}
}

func TestPrepareDir(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2024, 5, 1, 8, 30, 5, 0, time.UTC)

	dir, err := PrepareDir(filepath.Join(root, "nested"), at)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "nested", "2024-05-01T08.30.05"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCaptureNoURLs(t *testing.T) {
	files, err := NewChromeCapturer(time.Second, false).Capture(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
	require.Empty(t, files)
}

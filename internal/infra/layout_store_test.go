package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbmctl/lbmctl/internal/domain"
)

type storeOpener func(t *testing.T, dataDir string) *SQLLayoutStore

func openPlain(t *testing.T, dataDir string) *SQLLayoutStore {
	t.Helper()
	s, err := OpenLayoutStore(context.Background(), dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func encryptedOpener(key []byte) storeOpener {
	return func(t *testing.T, dataDir string) *SQLLayoutStore {
		t.Helper()
		s, err := OpenEncryptedLayoutStore(context.Background(), dataDir, key)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
}

func backends(t *testing.T) map[string]storeOpener {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return map[string]storeOpener{
		"sqlite":    openPlain,
		"sqlcipher": encryptedOpener(key),
	}
}

func sampleRecord() domain.LayoutRecord {
	return domain.LayoutRecord{
		ID:      "layout-1",
		Enabled: true,
		Options: domain.LayoutOptions{
			Algorithm:         "CornerCrossing",
			Priority:          "High",
			ExcludedProcesses: []string{"zeta.exe", "alpha.exe"},
			AdjustPointer:     true,
		},
		Monitors: []domain.MonitorSpec{
			{DeviceID: "B", Name: "Right", XMM: 597, WidthMM: 477, HeightMM: 268, Attached: true},
			{DeviceID: "A", Name: "Left", WidthMM: 597, HeightMM: 336, Attached: false},
		},
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestSQLLayoutStore_SaveAndLoad(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			ctx := context.Background()

			require.NoError(t, store.SaveLayout(ctx, sampleRecord()))

			got, err := store.LoadLayout(ctx, "layout-1")
			require.NoError(t, err)
			assert.Equal(t, sampleRecord().Options, got.Options, "excluded order preserved")
			assert.True(t, got.Enabled)
			assert.Equal(t, sampleRecord().UpdatedAt, got.UpdatedAt)
			require.Len(t, got.Monitors, 2)
			assert.Equal(t, "B", got.Monitors[0].DeviceID, "monitor order preserved")
			assert.Equal(t, 597.0, got.Monitors[0].XMM)
			assert.False(t, got.Monitors[1].Attached)
		})
	}
}

func TestSQLLayoutStore_SaveReplaces(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			ctx := context.Background()
			require.NoError(t, store.SaveLayout(ctx, sampleRecord()))

			rec := sampleRecord()
			rec.Options.ExcludedProcesses = []string{"only.exe"}
			rec.Monitors = rec.Monitors[:1]
			require.NoError(t, store.SaveLayout(ctx, rec))

			got, err := store.LoadLayout(ctx, "layout-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"only.exe"}, got.Options.ExcludedProcesses)
			assert.Len(t, got.Monitors, 1)
		})
	}
}

func TestSQLLayoutStore_SaveEnabled(t *testing.T) {
	tests := []struct {
		name   string
		seeded bool
	}{
		{name: "updates existing layout", seeded: true},
		{name: "creates missing layout", seeded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openPlain(t, t.TempDir())
			ctx := context.Background()
			if tt.seeded {
				require.NoError(t, store.SaveLayout(ctx, sampleRecord()))
			}

			require.NoError(t, store.SaveEnabled(ctx, "layout-1", false))

			got, err := store.LoadLayout(ctx, "layout-1")
			require.NoError(t, err)
			assert.False(t, got.Enabled)
			if tt.seeded {
				assert.Equal(t, "CornerCrossing", got.Options.Algorithm, "other columns untouched")
				assert.Len(t, got.Monitors, 2)
			}
		})
	}
}

func TestSQLLayoutStore_LoadNotFound(t *testing.T) {
	store := openPlain(t, t.TempDir())

	_, err := store.LoadLayout(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLLayoutStore_Persists(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	s1, err := OpenLayoutStore(ctx, dataDir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveLayout(ctx, sampleRecord()))
	require.NoError(t, s1.Close())

	s2 := openPlain(t, dataDir)
	got, err := s2.LoadLayout(ctx, "layout-1")
	require.NoError(t, err)
	assert.Equal(t, "High", got.Options.Priority)
}

func TestSQLLayoutStore_FilePermissions(t *testing.T) {
	store := openPlain(t, t.TempDir())

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEncryptedLayoutStore_Encryption(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T)
	}{
		{
			name: "database file is unreadable without key",
			testFn: func(t *testing.T) {
				dataDir := t.TempDir()
				key, err := GenerateKey()
				require.NoError(t, err)

				store, err := OpenEncryptedLayoutStore(context.Background(), dataDir, key)
				require.NoError(t, err)
				require.NoError(t, store.SaveLayout(context.Background(), sampleRecord()))
				store.Close()

				rawData, err := os.ReadFile(filepath.Join(dataDir, encryptedLayoutDBName))
				require.NoError(t, err)
				assert.NotContains(t, string(rawData), "CornerCrossing")
				assert.NotContains(t, string(rawData), "zeta.exe")
			},
		},
		{
			name: "wrong key fails to open",
			testFn: func(t *testing.T) {
				dataDir := t.TempDir()
				key1, _ := GenerateKey()
				key2, _ := GenerateKey()

				s1, err := OpenEncryptedLayoutStore(context.Background(), dataDir, key1)
				require.NoError(t, err)
				require.NoError(t, s1.SaveLayout(context.Background(), sampleRecord()))
				s1.Close()

				_, err = OpenEncryptedLayoutStore(context.Background(), dataDir, key2)
				assert.Error(t, err)
			},
		},
		{
			name: "correct key reads data",
			testFn: func(t *testing.T) {
				dataDir := t.TempDir()
				key, _ := GenerateKey()

				s1, err := OpenEncryptedLayoutStore(context.Background(), dataDir, key)
				require.NoError(t, err)
				require.NoError(t, s1.SaveLayout(context.Background(), sampleRecord()))
				s1.Close()

				s2 := encryptedOpener(key)(t, dataDir)
				got, err := s2.LoadLayout(context.Background(), "layout-1")
				require.NoError(t, err)
				assert.Equal(t, "CornerCrossing", got.Options.Algorithm)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFn)
	}
}

func TestSQLLayoutStore_Close_Idempotent(t *testing.T) {
	store, err := OpenLayoutStore(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestOpenStore(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	tests := []struct {
		name      string
		encrypted bool
		wantFile  string
		wantKey   bool
	}{
		{name: "plain", encrypted: false, wantFile: layoutDBName},
		{name: "encrypted", encrypted: true, wantFile: encryptedLayoutDBName, wantKey: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			store, err := OpenStore(context.Background(), dataDir, tt.encrypted)
			require.NoError(t, err)
			defer store.Close()

			assert.Equal(t, filepath.Join(dataDir, tt.wantFile), store.Path())
			assert.Equal(t, tt.wantKey, NewFileKeyProvider(dataDir).KeyExists())
		})
	}
}

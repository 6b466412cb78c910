package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/pkg/crypto"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "ethusdt")
	t.Setenv("INTERVALS", "1m, 5m")
	t.Setenv("PAPER", "true")
	t.Setenv("RECONCILE_INTERVAL", "30s")
	t.Setenv("API_BURST", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, []string{"1m", "5m"}, cfg.Intervals)
	assert.True(t, cfg.Paper)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 40, cfg.APIBurst)
	assert.Equal(t, "scalp", cfg.Preset)
	assert.Equal(t, time.Minute, cfg.BalanceSyncInterval)
}

func TestValidate(t *testing.T) {
	ok := Config{Symbol: "BTCUSDT", Intervals: []string{"1m"}, Paper: true, PaperBalance: 100, Timezone: "UTC"}
	require.NoError(t, ok.Validate())

	live := ok
	live.Paper = false
	assert.ErrorContains(t, live.Validate(), "BINANCE_API_KEY")

	live.BinanceAPIKey, live.BinanceAPISecret = "k", "s"
	assert.NoError(t, live.Validate())

	badTZ := ok
	badTZ.Timezone = "Mars/Olympus"
	assert.ErrorContains(t, badTZ.Validate(), "TIMEZONE")

	noSymbol := ok
	noSymbol.Symbol = ""
	assert.Error(t, noSymbol.Validate())
}

func TestRevealCredentials(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyring := func() (*crypto.Keyring, error) {
		return crypto.LoadKeyring(func(name string) string {
			if name == crypto.MasterKeyEnv {
				return key
			}
			return ""
		})
	}
	kr, err := keyring()
	require.NoError(t, err)
	sealed, err := kr.Encrypt("s3cret")
	require.NoError(t, err)

	cfg := Config{BinanceAPIKey: "plain-key", BinanceAPISecret: sealed}
	require.NoError(t, cfg.revealCredentials(keyring))
	assert.Equal(t, "plain-key", cfg.BinanceAPIKey)
	assert.Equal(t, "s3cret", cfg.BinanceAPISecret)

	plain := Config{BinanceAPIKey: "k", BinanceAPISecret: "s"}
	require.NoError(t, plain.revealCredentials(func() (*crypto.Keyring, error) {
		t.Fatal("keyring loaded for plain credentials")
		return nil, nil
	}))

	missing := Config{BinanceAPISecret: sealed}
	err = missing.revealCredentials(func() (*crypto.Keyring, error) {
		return crypto.LoadKeyring(func(string) string { return "" })
	})
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestBuiltinPresetsValidate(t *testing.T) {
	for _, name := range BuiltinNames() {
		t.Run(name, func(t *testing.T) {
			p, ok := Builtin(name)
			require.True(t, ok)
			assert.Equal(t, name, p.Name)
			assert.NoError(t, p.Validate())
		})
	}
	_, ok := Builtin("pyramid_v2")
	assert.False(t, ok)
}

func TestLoadPresetsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  - name: tight
    base: conservative
    entry:
      split_count: 4
      fill_timeout: 6s
    exit:
      ratchet:
        - {trigger_pct: 0.2, lock_pct: 0.0}
  - name: scalp
    exit:
      max_hold: 2m
`), 0o644))

	all, err := LoadPresets(path)
	require.NoError(t, err)

	tight := all["tight"]
	assert.Equal(t, "tight", tight.Name)
	assert.Equal(t, 4, tight.Entry.SplitCount)
	assert.Equal(t, 6*time.Second, tight.Entry.FillTimeout)
	assert.Equal(t, 5, tight.Entry.Leverage, "inherits conservative")
	assert.Equal(t, "confluence", tight.Signal.Strategy)
	assert.Equal(t, []RatchetStep{{TriggerPct: 0.2}}, tight.Exit.Ratchet)

	assert.Equal(t, 2*time.Minute, all["scalp"].Exit.MaxHold)
	assert.Len(t, all["conservative"].Exit.Ratchet, 3, "base untouched")
	assert.Contains(t, all, "breakout")
}

func TestLoadPresetsErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		path := filepath.Join(dir, "p.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := LoadPresets(write("presets:\n  - entry: {leverage: 3}\n"))
	assert.ErrorContains(t, err, "name is required")

	_, err = LoadPresets(write("presets:\n  - name: x\n    base: nope\n"))
	assert.ErrorContains(t, err, "unknown base")

	_, err = LoadPresets(write("presets:\n  - name: x\n    entry: {leverage: 500}\n"))
	assert.ErrorContains(t, err, "leverage")

	_, err = LoadPresets(write("presets:\n  - name: x\n    signal: {strategy: grid}\n"))
	assert.ErrorContains(t, err, "unknown strategy")

	all, err := LoadPresets(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSelectPreset(t *testing.T) {
	p, err := SelectPreset("", "aggressive")
	require.NoError(t, err)
	assert.Equal(t, 20, p.Entry.Leverage)

	_, err = SelectPreset("", "unknown")
	assert.ErrorContains(t, err, "aggressive")
}

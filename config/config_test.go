package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guseggert/procrelay/agent/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const fullConfig = `
listen_addr: 0.0.0.0:4000
buffer_size: 64
drain_timeout: 500ms
shutdown_timeout: 3s
log_level: debug
slots:
  - name: main
    command: python
    args: [main.py]
    env: {PYTHONUNBUFFERED: "1", B: "2"}
    dir: /srv/bot
    echo_input: true
  - name: companionA
    command: node
    args: [index.js]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4000", cfg.ListenAddr)
	assert.Equal(t, 64, cfg.BufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.DrainTimeout)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	assert.Equal(t, []supervisor.Config{
		{
			Slot:         "main",
			Path:         "python",
			Args:         []string{"main.py"},
			Env:          []string{"B=2", "PYTHONUNBUFFERED=1"},
			Dir:          "/srv/bot",
			EchoInput:    true,
			DrainTimeout: 500 * time.Millisecond,
		},
		{
			Slot:         "companionA",
			Path:         "node",
			Args:         []string{"index.js"},
			DrainTimeout: 500 * time.Millisecond,
		},
	}, cfg.SupervisorConfigs())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("slots: [{name: main, command: cat}]"))
	require.NoError(t, err)

	exp := Default()
	exp.Slots = []Slot{{Name: "main", Command: "cat"}}
	assert.Equal(t, exp, cfg)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		yaml   string
		expErr []string
	}{
		{
			name:   "no slots",
			yaml:   "buffer_size: 10",
			expErr: []string{"at least one slot is required"},
		},
		{
			name:   "missing fields",
			yaml:   "slots: [{name: main}, {command: cat}]",
			expErr: []string{"slot 0: command is required", "slot 1: name is required"},
		},
		{
			name:   "duplicate names",
			yaml:   "slots: [{name: main, command: cat}, {name: main, command: cat}]",
			expErr: []string{`slot 1: duplicate name "main"`},
		},
		{
			name:   "bad log level",
			yaml:   "log_level: loud\nslots: [{name: main, command: cat}]",
			expErr: []string{"log_level"},
		},
		{
			name:   "negative buffer",
			yaml:   "buffer_size: -1\nslots: [{name: main, command: cat}]",
			expErr: []string{"buffer_size must not be negative"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			require.Error(t, err)
			for _, e := range c.expErr {
				assert.ErrorContains(t, err, e)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Slots, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Parse([]byte("slots: ["))
	assert.ErrorContains(t, err, "parsing config")
}

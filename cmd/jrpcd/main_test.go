package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/service"
)

func TestParseControl(t *testing.T) {
	m, err := parseControl([]string{"delay", "100", "periodic", "1"})
	require.NoError(t, err)
	require.Equal(t, scheduler.CmdDelay, m.Command)
	require.Equal(t, [scheduler.ParamNum]uint64{100, uint64(scheduler.Periodic), 1}, m.Params)

	m, err = parseControl([]string{"undelay", "0x100000002"})
	require.NoError(t, err)
	require.Equal(t, scheduler.CmdUndelay, m.Command)
	require.EqualValues(t, 0x100000002, m.Params[0])

	m, err = parseControl([]string{"unhandle-read", "7"})
	require.NoError(t, err)
	require.Equal(t, scheduler.CmdUnhandleRead, m.Command)

	for _, bad := range [][]string{
		{"reboot"},
		{"delay", "1", "oneshot"},
		{"delay", "1", "sometimes", "1"},
		{"handle-read", "x", "1"},
	} {
		_, err := parseControl(bad)
		require.Error(t, err, bad)
	}
}

type fixedStats scheduler.Stats

func (f fixedStats) Stats() scheduler.Stats { return scheduler.Stats(f) }

func TestBuiltins(t *testing.T) {
	reg := service.NewRegistry()
	now := time.UnixMilli(1700000000123)
	var src statsSource
	require.NoError(t, registerBuiltins(reg, func() statsSource { return src }, func() time.Time { return now }))
	require.Equal(t, []string{"echo", "ping", "time", "stats"}, reg.Names())

	call := func(fn string) string {
		req, err := protocol.Unmarshal([]byte(`{"call":{"function":"` + fn + `"}}`))
		require.NoError(t, err)
		b, err := protocol.Marshal(reg.Invoke(req))
		require.NoError(t, err)
		return string(b)
	}
	require.Equal(t, `{}`, call("echo"))
	require.Equal(t, `{"pong":true}`, call("ping"))
	require.Equal(t, `{"unix_ms":1700000000123}`, call("time"))
	require.Equal(t, `{"ret":{"code":-1,"desc":"Unknown Error"}}`, call("stats"))

	src = fixedStats{Handlers: 2, Steps: 9}
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(call("stats")), &st))
	require.EqualValues(t, 2, st["handlers"])
	require.EqualValues(t, 9, st["steps"])
}

func TestParseParams(t *testing.T) {
	v, err := parseParams(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = parseParams([]string{`{"x":1}`})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": json.Number("1")}, v)

	_, err = parseParams([]string{`{`})
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

//go:build linux || darwin

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legamerdc/jrpc/logx"
)

func TestControlChannel(t *testing.T) {
	s, err := Open(Param{EnableIPC: true, Logger: logx.Nop()})
	require.NoError(t, err)
	defer s.Close()

	port := uint16(s.ControlPort())
	require.NotZero(t, port)

	fired := 0
	require.NoError(t, s.RegisterRemoteProc(1, func() { fired++ }))
	require.ErrorIs(t, s.RegisterRemoteProc(2, nil), ErrInvalidArgument)

	step := func(until func() bool) {
		deadline := time.Now().Add(2 * time.Second)
		for !until() && time.Now().Before(deadline) {
			require.NoError(t, s.SingleStep(20))
		}
	}

	// 未登记的过程 id 被丢弃
	require.NoError(t, SendControl(port, Message{Command: CmdDelay, Params: [ParamNum]uint64{0, uint64(Oneshot), 99}}))
	require.NoError(t, SendControl(port, Message{Command: CmdDelay, Params: [ParamNum]uint64{0, uint64(Oneshot), 1}}))
	step(func() bool { return fired > 0 })
	require.Equal(t, 1, fired)
	require.EqualValues(t, 1, s.Stats().Commands)

	require.NoError(t, SendControl(port, Message{Command: CmdDelay, Params: [ParamNum]uint64{60000, uint64(Oneshot), 1}}))
	step(func() bool { return s.Stats().Tasks == 1 })
	require.Equal(t, 1, s.Stats().Tasks)

	h := s.delayQ.head().handle
	require.NoError(t, SendControl(port, Message{Command: CmdUndelay, Params: [ParamNum]uint64{h.Uint64()}}))
	step(func() bool { return s.Stats().Tasks == 0 })
	require.Equal(t, 0, s.Stats().Tasks)
	require.Equal(t, 1, fired)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := Open(Param{Logger: logx.Nop()})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

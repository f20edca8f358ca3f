package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/legamerdc/jrpc/scheduler"
)

func newCtlCmd() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "ctl <delay|undelay|handle-read|unhandle-read> args...",
		Short: "Sends a control datagram to a local scheduler.",
		Long: `Sends one control datagram to the scheduler control port on 127.0.0.1.

  delay <msec> <oneshot|periodic> <proc-id>
  undelay <handle>
  handle-read <fd> <proc-id>
  unhandle-read <fd>

Delivery is best effort; malformed requests are dropped by the server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseControl(args)
			if err != nil {
				return err
			}
			if err := scheduler.SendControl(port, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to 127.0.0.1:%d\n", m.Command, port)
			return nil
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", scheduler.DefaultIPCPort, "control port")
	return cmd
}

func parseControl(args []string) (scheduler.Message, error) {
	var m scheduler.Message
	want := map[string]int{"delay": 4, "undelay": 2, "handle-read": 3, "unhandle-read": 2}
	n, ok := want[args[0]]
	if !ok {
		return m, errors.Errorf("unknown control command %q", args[0])
	}
	if len(args) != n {
		return m, errors.Errorf("%s expects %d arguments", args[0], n-1)
	}
	nums := make([]uint64, 0, 3)
	for i, a := range args[1:] {
		if args[0] == "delay" && i == 1 {
			switch a {
			case "oneshot":
				nums = append(nums, uint64(scheduler.Oneshot))
			case "periodic":
				nums = append(nums, uint64(scheduler.Periodic))
			default:
				return m, errors.Errorf("unknown mode %q", a)
			}
			continue
		}
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return m, errors.Wrapf(err, "argument %d", i+1)
		}
		nums = append(nums, v)
	}
	switch args[0] {
	case "delay":
		m.Command = scheduler.CmdDelay
	case "undelay":
		m.Command = scheduler.CmdUndelay
	case "handle-read":
		m.Command = scheduler.CmdHandleRead
	case "unhandle-read":
		m.Command = scheduler.CmdUnhandleRead
	}
	copy(m.Params[:], nums)
	return m, nil
}

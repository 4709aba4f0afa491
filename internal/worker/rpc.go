package worker

import (
	"fmt"

	"github.com/multicap/multicap/internal/xrpc"
)

// Wire method names of the worker protocol.
const (
	MethodStartDevice = "start_device"
	MethodGetOutputs  = "get_outputs"
	MethodStopDevices = "stop_devices"
)

// RegisterRPC exposes the agent's operations on an XML-RPC dispatcher.
func (a *Agent) RegisterRPC(s *xrpc.Server) {
	s.Register(MethodStartDevice, a.rpcStartDevice)
	s.Register(MethodGetOutputs, a.rpcGetOutputs)
	s.Register(MethodStopDevices, a.rpcStopDevices)
}

// rpcStartDevice expects a single argument: an array of argument vectors.
func (a *Agent) rpcStartDevice(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("start_device expects 1 argument, got %d", len(args))
	}
	cmds, err := decodeCommands(args[0])
	if err != nil {
		return nil, err
	}
	return encodeResult(a.StartDevices(cmds)), nil
}

func (a *Agent) rpcGetOutputs(args []any) (any, error) {
	lines := a.Outputs()
	out := make([]any, len(lines))
	for i, line := range lines {
		out[i] = line
	}
	return out, nil
}

func (a *Agent) rpcStopDevices(args []any) (any, error) {
	return encodeResult(a.StopDevices()), nil
}

func decodeCommands(v any) ([][]string, error) {
	outer, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("start_device argument must be an array of commands")
	}
	cmds := make([][]string, 0, len(outer))
	for i, item := range outer {
		cmd := xrpc.Strings(item)
		if len(cmd) == 0 {
			return nil, fmt.Errorf("command %d is not a string array", i)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func encodeResult(r Result) map[string]any {
	details := make([]any, 0, len(r.Details))
	for _, d := range r.Details {
		m := map[string]any{
			"cmd":    d.Cmd,
			"status": d.Status,
		}
		if d.Pid != 0 {
			m["pid"] = d.Pid
		}
		if d.Error != "" {
			m["error"] = d.Error
		}
		details = append(details, m)
	}
	return map[string]any{
		"code":    r.Code,
		"msg":     r.Msg,
		"details": details,
	}
}

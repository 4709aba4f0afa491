package master

import (
	"context"
	"fmt"
	"time"

	"github.com/multicap/multicap/internal/worker"
	"github.com/multicap/multicap/internal/xrpc"
)

// WorkerClient is the remote surface of one worker agent as seen by the
// controller. Tests substitute in-memory fakes.
type WorkerClient interface {
	StartDevice(ctx context.Context, cmds [][]string) (code int, msg string, err error)
	GetOutputs(ctx context.Context) ([]string, error)
	StopDevices(ctx context.Context) error
}

// Endpoint pairs a worker's IP with its remote handle. Created during
// discovery, discarded at session end.
type Endpoint struct {
	IP     string
	Client WorkerClient
}

type rpcWorker struct {
	c *xrpc.Client
}

// DialWorker connects an XML-RPC backed WorkerClient. Trust-on-connect:
// there is no handshake beyond the first call.
func DialWorker(ip string, port int, timeout time.Duration) WorkerClient {
	return &rpcWorker{c: xrpc.NewClient(ip, port, timeout)}
}

func (w *rpcWorker) StartDevice(ctx context.Context, cmds [][]string) (int, string, error) {
	arg := make([]any, len(cmds))
	for i, cmd := range cmds {
		arg[i] = cmd
	}
	result, err := w.c.Call(ctx, worker.MethodStartDevice, arg)
	if err != nil {
		return 0, "", err
	}
	status, ok := result.(map[string]any)
	if !ok {
		return 0, "", fmt.Errorf("start_device: unexpected response %T", result)
	}
	code, _ := xrpc.Int(status["code"])
	msg, _ := status["msg"].(string)
	return code, msg, nil
}

func (w *rpcWorker) GetOutputs(ctx context.Context) ([]string, error) {
	result, err := w.c.Call(ctx, worker.MethodGetOutputs)
	if err != nil {
		return nil, err
	}
	return xrpc.Strings(result), nil
}

func (w *rpcWorker) StopDevices(ctx context.Context) error {
	_, err := w.c.Call(ctx, worker.MethodStopDevices)
	return err
}

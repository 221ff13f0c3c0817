package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that a daemon answers on the socket.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Roadie.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*Status, error) {
	var resp Status
	if err := c.client.Call("Roadie.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartUnit starts supervision of the named unit.
func (c *Client) StartUnit(name string) (*StartUnitResponse, error) {
	var resp StartUnitResponse
	if err := c.client.Call("Roadie.StartUnit", StartUnitRequest{Unit: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopUnit stops the named unit without removing it.
func (c *Client) StopUnit(name string) (*StopUnitResponse, error) {
	var resp StopUnitResponse
	if err := c.client.Call("Roadie.StopUnit", StopUnitRequest{Unit: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestartUnit restarts the named unit from its on-disk definition.
func (c *Client) RestartUnit(name string) (*RestartUnitResponse, error) {
	var resp RestartUnitResponse
	if err := c.client.Call("Roadie.RestartUnit", RestartUnitRequest{Unit: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReloadUnits re-reads the units directory and returns the reconciliation
// summary.
func (c *Client) ReloadUnits() (*ReloadResult, error) {
	var resp ReloadResult
	if err := c.client.Call("Roadie.ReloadUnits", ReloadUnitsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns recent instance records, newest first.
func (c *Client) History(unit string, limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	req := HistoryRequest{Unit: unit, Limit: limit}
	if err := c.client.Call("Roadie.History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryStats returns per-unit history aggregates.
func (c *Client) HistoryStats() (*HistoryStatsResponse, error) {
	var resp HistoryStatsResponse
	if err := c.client.Call("Roadie.HistoryStats", HistoryStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Roadie.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Roadie.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Roadie.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a controller or station process.
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
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the controller status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(controllerService+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Step requests a workflow step change.
func (c *Client) Step(step string) (*StepResponse, error) {
	var resp StepResponse
	if err := c.client.Call(controllerService+".Step", StepRequest{Step: step}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Toggle flips the Step2 toggle.
func (c *Client) Toggle() (*ToggleResponse, error) {
	var resp ToggleResponse
	if err := c.client.Call(controllerService+".Toggle", ToggleRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutter broadcasts a shutter command for the current step.
func (c *Client) Shutter() (*ShutterResponse, error) {
	var resp ShutterResponse
	if err := c.client.Call(controllerService+".Shutter", ShutterRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan feeds scanner text to the controller.
func (c *Client) Scan(field, text string) (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.client.Call(controllerService+".Scan", ScanRequest{Field: field, Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists recent capture sessions.
func (c *Client) Sessions(limit int) (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.client.Call(controllerService+".Sessions", SessionsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionImages lists the images recorded for one session.
func (c *Client) SessionImages(serial, date string) (*SessionImagesResponse, error) {
	var resp SessionImagesResponse
	req := SessionImagesRequest{Serial: serial, Date: date}
	if err := c.client.Call(controllerService+".SessionImages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call(controllerService+".TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StationStatus retrieves the station agent status.
func (c *Client) StationStatus() (*StationStatusResponse, error) {
	var resp StationStatusResponse
	if err := c.client.Call(stationService+".Status", StationStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetCameraID changes the station's camera ID.
func (c *Client) SetCameraID(id int) (*SetCameraIDResponse, error) {
	var resp SetCameraIDResponse
	if err := c.client.Call(stationService+".SetCameraID", SetCameraIDRequest{CameraID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reconnect asks the station to drop and re-establish its controller link.
func (c *Client) Reconnect() error {
	return c.client.Call(stationService+".Reconnect", ReconnectRequest{}, &ReconnectResponse{})
}

// Capture takes and sends a test shot from the station.
func (c *Client) Capture() (*CaptureResponse, error) {
	var resp CaptureResponse
	if err := c.client.Call(stationService+".Capture", CaptureRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

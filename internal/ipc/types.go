package ipc

import (
	"aoi/internal/agent"
	"aoi/internal/daemon"
	"aoi/internal/history"
	"aoi/internal/workflow"
)

const (
	controllerService = "Controller"
	stationService    = "Station"
)

// StatusRequest asks the controller for its status.
type StatusRequest struct{}

// StatusResponse carries daemon status including the current snapshot.
type StatusResponse struct {
	daemon.Status
}

// StepRequest selects a workflow step by name ("Step2", "step2" or "2").
type StepRequest struct {
	Step string `json:"step"`
}

type StepResponse struct {
	Step string `json:"step"`
}

type ToggleRequest struct{}

type ToggleResponse struct {
	Step2Enabled bool   `json:"step2_enabled"`
	Step         string `json:"step"`
}

type ShutterRequest struct{}

// ShutterResponse summarizes a shutter fan-out.
type ShutterResponse struct {
	Targets   []int             `json:"targets"`
	Delivered int               `json:"delivered"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// ScanRequest feeds scanner text to Field, or to the focused field when
// Field is empty.
type ScanRequest struct {
	Field string `json:"field,omitempty"`
	Text  string `json:"text"`
}

type ScanResponse struct {
	State workflow.State `json:"state"`
}

type SessionsRequest struct {
	Limit int `json:"limit"`
}

type SessionsResponse struct {
	Sessions []history.Session `json:"sessions"`
}

type SessionImagesRequest struct {
	Serial string `json:"serial"`
	Date   string `json:"date"`
}

type SessionImagesResponse struct {
	Images []history.ImageRecord `json:"images"`
}

type TestNotificationRequest struct{}

type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

type StationStatusRequest struct{}

type StationStatusResponse struct {
	agent.Status
}

type SetCameraIDRequest struct {
	CameraID int `json:"camera_id"`
}

type SetCameraIDResponse struct {
	CameraID int `json:"camera_id"`
}

type ReconnectRequest struct{}

type ReconnectResponse struct{}

type CaptureRequest struct{}

type CaptureResponse struct {
	Captures int `json:"captures"`
}

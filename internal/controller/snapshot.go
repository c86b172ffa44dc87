package controller

import (
	"time"

	"aoi/internal/station"
	"aoi/internal/workflow"
)

// Snapshot is the presentation view of the controller at one instant.
type Snapshot struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	workflow.State

	Presence station.Presence `json:"presence"`
	Stations []station.Info   `json:"stations"`
}

// Presenter receives every snapshot in order. Present is called with the
// controller lock held and must not block or call back into the controller.
type Presenter interface {
	Present(Snapshot)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Snapshot)

func (f PresenterFunc) Present(s Snapshot) { f(s) }

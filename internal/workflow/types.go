package workflow

import (
	"errors"
	"time"

	"aoi/internal/protocol"
)

// Step names a workflow phase. The string value is used verbatim in file
// names.
type Step string

const (
	Step1 Step = "Step1"
	Step2 Step = "Step2"
	Step3 Step = "Step3"
)

// Steps lists every step in workflow order.
var Steps = []Step{Step1, Step2, Step3}

// ParseStep accepts "Step2", "step2", or "2".
func ParseStep(value string) (Step, error) {
	switch foldCommand(value) {
	case "step1", "1":
		return Step1, nil
	case "step2", "2":
		return Step2, nil
	case "step3", "3":
		return Step3, nil
	default:
		return "", ErrUnknownStep
	}
}

// Field identifies which scanner input currently has focus.
type Field string

const (
	FieldOperator Field = "operator"
	FieldSerial   Field = "serial"
	FieldCode     Field = "code"
)

// NoticeKind groups transient messages; at most one notice of each kind is
// visible at a time.
type NoticeKind string

const (
	NoticeStep2Disabled  NoticeKind = "step2_disabled"
	NoticeIncomplete     NoticeKind = "incomplete"
	NoticeInvalidCommand NoticeKind = "invalid_command"
	NoticeWriteFailed    NoticeKind = "write_failed"
	NoticeScanner        NoticeKind = "scanner"
)

// Notice is a transient, self-clearing message for the operator.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Seq     uint64     `json:"seq"`
	Raised  time.Time  `json:"raised"`
}

// Action is what the controller must do after a scan.
type Action int

const (
	ActionNone Action = iota
	ActionShutter
)

// CompletionResult is the outcome of comparing a persisted file count with
// the expected count.
type CompletionResult int

const (
	// CompletionStale means the session moved on while the count ran.
	CompletionStale CompletionResult = iota
	CompletionComplete
	CompletionIncomplete
	// CompletionRecheck means another Step3 image landed while counting; the
	// caller must count again.
	CompletionRecheck
)

func (r CompletionResult) String() string {
	switch r {
	case CompletionComplete:
		return "complete"
	case CompletionIncomplete:
		return "incomplete"
	case CompletionRecheck:
		return "recheck"
	default:
		return "stale"
	}
}

// State is a copy of the machine suitable for presentation.
type State struct {
	Step         Step                               `json:"step"`
	Step2Enabled bool                               `json:"step2_enabled"`
	Operator     string                             `json:"operator"`
	Serial       string                             `json:"serial"`
	Code         string                             `json:"code"`
	Focus        Field                              `json:"focus"`
	Previews     map[Step]map[protocol.CameraID]int `json:"previews"`
	Notices      []Notice                           `json:"notices"`
}

var (
	ErrStepDisabled   = errors.New("step2 is disabled")
	ErrUnknownStep    = errors.New("unknown step")
	ErrInvalidCommand = errors.New("invalid command")
	ErrUnknownField   = errors.New("unknown input field")
)

const (
	messageStep2Disabled = "Step2 is disabled; enable it and retry"
	messageIncomplete    = "Camera offline or images incomplete; check and retry"
)

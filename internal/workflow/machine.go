package workflow

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"aoi/internal/protocol"
)

// Machine is the single active capture session.
type Machine struct {
	step     Step
	step2    bool
	operator string
	serial   string
	code     string
	focus    Field
	previews map[Step]map[protocol.CameraID][]byte

	notices map[NoticeKind]Notice
	seq     uint64

	checking bool
	recheck  bool

	now func() time.Time
}

// NewMachine returns a machine at Step1 with focus on the operator field.
func NewMachine(step2Enabled bool) *Machine {
	return &Machine{
		step:     Step1,
		step2:    step2Enabled,
		focus:    FieldOperator,
		previews: make(map[Step]map[protocol.CameraID][]byte),
		notices:  make(map[NoticeKind]Notice),
		now:      time.Now,
	}
}

func (m *Machine) Step() Step              { return m.step }
func (m *Machine) Step2Enabled() bool      { return m.step2 }
func (m *Machine) Serial() string          { return m.serial }
func (m *Machine) Operator() string        { return m.operator }
func (m *Machine) Focus() Field            { return m.focus }
func (m *Machine) CompletionPending() bool { return m.checking }

// RequestStep moves to target. Step2 is refused while the toggle is off; the
// refusal raises a notice and leaves the step unchanged.
func (m *Machine) RequestStep(target Step) (Notice, error) {
	if !slices.Contains(Steps, target) {
		return Notice{}, fmt.Errorf("%w: %q", ErrUnknownStep, target)
	}
	if target == Step2 && !m.step2 {
		return m.Raise(NoticeStep2Disabled, messageStep2Disabled), ErrStepDisabled
	}
	m.step = target
	m.focus = FieldCode
	return Notice{}, nil
}

// ToggleStep2 flips the Step2 toggle and always returns to Step1.
func (m *Machine) ToggleStep2() bool {
	m.step2 = !m.step2
	m.step = Step1
	return m.step2
}

// ForceStep1 returns to Step1 without touching the session fields.
func (m *Machine) ForceStep1() {
	m.step = Step1
}

// ExpectedCount is the number of files a complete session directory holds:
// four cameras at Step1 and Step3, plus camera 4 at Step2 when enabled.
func (m *Machine) ExpectedCount() int {
	if m.step2 {
		return 9
	}
	return 8
}

// RecordPreview keeps the latest image per step and camera for display. It
// has no bearing on completion.
func (m *Machine) RecordPreview(step Step, camera protocol.CameraID, data []byte) {
	byCam, ok := m.previews[step]
	if !ok {
		byCam = make(map[protocol.CameraID][]byte)
		m.previews[step] = byCam
	}
	byCam[camera] = data
}

// Preview returns the latest image received for step and camera.
func (m *Machine) Preview(step Step, camera protocol.CameraID) ([]byte, bool) {
	data, ok := m.previews[step][camera]
	return data, ok
}

// Scan applies scanner input to field and advances focus: operator, then
// serial, then code. Code input is interpreted as a command and cleared.
func (m *Machine) Scan(field Field, text string) (Action, error) {
	switch field {
	case FieldOperator:
		m.operator = strings.TrimSpace(text)
		m.focus = FieldSerial
		return ActionNone, nil
	case FieldSerial:
		m.setSerial(text)
		m.focus = FieldCode
		return ActionNone, nil
	case FieldCode:
		m.code = text
		action, err := m.command(text)
		m.code = ""
		return action, err
	default:
		return ActionNone, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

// ScanFocused applies text to whichever field currently has focus.
func (m *Machine) ScanFocused(text string) (Action, error) {
	return m.Scan(m.focus, text)
}

func (m *Machine) setSerial(text string) {
	serial := strings.TrimSpace(text)
	if serial != m.serial {
		clear(m.previews)
	}
	m.serial = serial
}

func (m *Machine) command(text string) (Action, error) {
	cmd := foldCommand(text)
	switch cmd {
	case "step1":
		_, err := m.RequestStep(Step1)
		return ActionNone, err
	case "step2":
		_, err := m.RequestStep(Step2)
		return ActionNone, err
	case "step3":
		_, err := m.RequestStep(Step3)
		return ActionNone, err
	case protocol.CommandShutter:
		return ActionShutter, nil
	default:
		m.Raise(NoticeInvalidCommand, "Invalid command: "+cmd)
		return ActionNone, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
}

// A Caser is stateful, so each call gets its own.
func foldCommand(text string) string {
	return cases.Fold().String(strings.TrimSpace(text))
}

// BeginCompletionCheck reports whether the caller should count files for
// serial now. It only starts at Step3 for the active serial, and never while
// another check is outstanding; a request during a check is remembered and
// surfaces as CompletionRecheck.
func (m *Machine) BeginCompletionCheck(serial string) bool {
	if m.step != Step3 || serial == "" || serial != m.serial {
		return false
	}
	if m.checking {
		m.recheck = true
		return false
	}
	m.checking = true
	m.recheck = false
	return true
}

// FinishCompletionCheck consumes a file count started by BeginCompletionCheck.
func (m *Machine) FinishCompletionCheck(serial string, count int) CompletionResult {
	recheck := m.recheck
	m.recheck = false
	m.checking = false

	if m.step != Step3 || serial != m.serial {
		return CompletionStale
	}
	if count == m.ExpectedCount() {
		m.complete()
		return CompletionComplete
	}
	if recheck {
		m.checking = true
		return CompletionRecheck
	}
	m.Raise(NoticeIncomplete, messageIncomplete)
	return CompletionIncomplete
}

// ResolveIncomplete forces Step1 once the incomplete notice identified by seq
// has been visible for the grace period. A newer incomplete notice supersedes
// it.
func (m *Machine) ResolveIncomplete(seq uint64) bool {
	n, ok := m.notices[NoticeIncomplete]
	if !ok || n.Seq != seq {
		return false
	}
	delete(m.notices, NoticeIncomplete)
	m.step = Step1
	return true
}

func (m *Machine) complete() {
	clear(m.previews)
	m.step = Step1
	m.serial = ""
	m.code = ""
	m.focus = FieldSerial
	delete(m.notices, NoticeIncomplete)
}

// Raise shows a notice of kind, replacing any earlier one of the same kind.
func (m *Machine) Raise(kind NoticeKind, message string) Notice {
	m.seq++
	n := Notice{Kind: kind, Message: message, Seq: m.seq, Raised: m.now()}
	m.notices[kind] = n
	return n
}

// Expire clears the notice of kind if it is still the one identified by seq.
func (m *Machine) Expire(kind NoticeKind, seq uint64) bool {
	n, ok := m.notices[kind]
	if !ok || n.Seq != seq {
		return false
	}
	delete(m.notices, kind)
	return true
}

// Notices returns visible notices, oldest first.
func (m *Machine) Notices() []Notice {
	out := make([]Notice, 0, len(m.notices))
	for _, n := range m.notices {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Notice) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// State copies the machine for presentation. Previews are reported as byte
// sizes.
func (m *Machine) State() State {
	previews := make(map[Step]map[protocol.CameraID]int, len(m.previews))
	for step, byCam := range m.previews {
		sizes := make(map[protocol.CameraID]int, len(byCam))
		for cam, data := range byCam {
			sizes[cam] = len(data)
		}
		previews[step] = sizes
	}
	return State{
		Step:         m.step,
		Step2Enabled: m.step2,
		Operator:     m.operator,
		Serial:       m.serial,
		Code:         m.code,
		Focus:        m.focus,
		Previews:     previews,
		Notices:      m.Notices(),
	}
}

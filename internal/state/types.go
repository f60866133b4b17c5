package state

import (
	"fmt"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
)

// Stage is a session's coarse workflow position.
type Stage string

const (
	StageOre        Stage = "ore"
	StageProcessing Stage = "processing"
	StageShip       Stage = "ship"
)

// Stages lists every valid stage in workflow order.
var Stages = []Stage{StageOre, StageProcessing, StageShip}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageOre, StageProcessing, StageShip:
		return true
	}
	return false
}

// Next returns the stage after s. The last stage and unknown stages have
// no successor.
func (s Stage) Next() (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// ParseStage converts a wire value into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", herrors.BadRequest(herrors.Op("state.ParseStage"),
			fmt.Sprintf("invalid stage %q (want ore, processing or ship)", v))
	}
	return s, nil
}

// DefaultState is the state label of a freshly created session.
const DefaultState = "new"

// Session is one tracked agent instance.
type Session struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Scope     string    `json:"scope,omitempty"`
	Stage     Stage     `json:"stage"`
	State     string    `json:"state"`
	Status    string    `json:"status,omitempty"`
	Active    bool      `json:"active"`
	WindowRef *string   `json:"window_ref"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Window returns the window reference or "" when there is none.
func (s Session) Window() string {
	if s.WindowRef == nil {
		return ""
	}
	return *s.WindowRef
}

// NewSession carries the caller-supplied fields of a session create.
type NewSession struct {
	Project string
	Scope   string
	Stage   Stage  // optional, defaults to StageOre
	State   string // optional, defaults to DefaultState
}

// SessionUpdate lists the fields to overwrite. Nil fields are left alone.
// ClearWindow removes the window reference and wins over WindowRef.
type SessionUpdate struct {
	Stage       *Stage
	State       *string
	Status      *string
	Scope       *string
	Active      *bool
	WindowRef   *string
	ClearWindow bool
}

// Empty reports whether the update would change nothing.
func (u SessionUpdate) Empty() bool {
	return u.Stage == nil && u.State == nil && u.Status == nil && u.Scope == nil &&
		u.Active == nil && u.WindowRef == nil && !u.ClearWindow
}

// BacklogItem is a queued future work item.
type BacklogItem struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Description string    `json:"description"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBacklogItem carries the caller-supplied fields of a backlog create.
type NewBacklogItem struct {
	Project     string
	Description string
	SessionID   string // optional: the session that queued the item
}

// BacklogUpdate lists the fields to overwrite. Nil fields are left alone.
type BacklogUpdate struct {
	Project     *string
	Description *string
}

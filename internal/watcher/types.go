package watcher

import (
	"encoding/json"
	"io/fs"
	"time"

	"pathwatch/internal/backend"
)

type Op string

const (
	OpAdd       Op = "add"
	OpAddDir    Op = "addDir"
	OpChange    Op = "change"
	OpUnlink    Op = "unlink"
	OpUnlinkDir Op = "unlinkDir"
	OpReady     Op = "ready"
	OpRaw       Op = "raw"
	OpError     Op = "error"
	// OpAll selects the five semantic kinds in On.
	OpAll Op = "all"
)

// SemanticOps are the operations delivered by SubscribeAll.
var SemanticOps = []Op{OpAdd, OpAddDir, OpChange, OpUnlink, OpUnlinkDir}

func (op Op) Semantic() bool {
	switch op {
	case OpAdd, OpAddDir, OpChange, OpUnlink, OpUnlinkDir:
		return true
	default:
		return false
	}
}

// Event is one notification. Info carries the stats observed for add, addDir
// and change; it is nil for unlink and unlinkDir. Err is set for error events
// and Raw for raw events.
type Event struct {
	Op   Op
	Path string
	Info fs.FileInfo
	Err  error
	Raw  *backend.RawEvent
	Time time.Time
}

func (event Event) Type() string {
	return string(event.Op)
}

// Record is the serialized form of an Event, used for JSON and YAML output.
type Record struct {
	Op      Op         `json:"op" yaml:"op"`
	Path    string     `json:"path,omitempty" yaml:"path,omitempty"`
	Time    time.Time  `json:"time" yaml:"time"`
	Size    *int64     `json:"size,omitempty" yaml:"size,omitempty"`
	ModTime *time.Time `json:"mtime,omitempty" yaml:"mtime,omitempty"`
	IsDir   bool       `json:"isDir,omitempty" yaml:"isDir,omitempty"`
	Error   string     `json:"error,omitempty" yaml:"error,omitempty"`
	Kind    string     `json:"kind,omitempty" yaml:"kind,omitempty" jsonschema:"description=Backend kind hint of a raw event"`
	Label   string     `json:"label,omitempty" yaml:"label,omitempty" jsonschema:"description=Backend operation label of a raw event"`
}

func (event Event) Record() Record {
	record := Record{
		Op:   event.Op,
		Path: event.Path,
		Time: event.Time,
	}
	if event.Info != nil {
		size := event.Info.Size()
		modTime := event.Info.ModTime()
		record.Size = &size
		record.ModTime = &modTime
		record.IsDir = event.Info.IsDir()
	}
	if event.Err != nil {
		record.Error = event.Err.Error()
	}
	if event.Raw != nil {
		record.Kind = event.Raw.Kind.String()
		record.Label = event.Raw.Op
	}
	return record
}

func (event Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(event.Record())
}

type State int32

const (
	StateInitializing State = iota
	StateReady
	StateRunning
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

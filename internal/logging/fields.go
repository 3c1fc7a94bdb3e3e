package logging

// Encoder keys.
const (
	FieldTimestamp  = "ts"
	FieldLevel      = "level"
	FieldLogger     = "logger"
	FieldCaller     = "caller"
	FieldMessage    = "msg"
	FieldStacktrace = "stacktrace"
)

// Structured field names shared by every package.
const (
	FieldSource   = "source"
	FieldSession  = "session"
	FieldSeq      = "seq"
	FieldActive   = "active"
	FieldRaw      = "raw"
	FieldProgress = "progress"
	FieldCommand  = "command"
	FieldPath     = "path"
)

// Logger names of the daemon components.
const (
	ComponentCore     = "core"
	ComponentMonitor  = "monitor"
	ComponentDetector = "detector"
	ComponentConfig   = "config"
	ComponentIPC      = "ipc"
	ComponentFeed     = "feed"
)

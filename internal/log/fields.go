package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldOperation  = "operation"
	FieldError      = "error"
	FieldDuration   = "duration_ms"
	FieldItemID     = "item_id"
	FieldSnapshotID = "snapshot_id"
	FieldRecordDate = "record_date"
	FieldRangeStart = "range_start"
	FieldRangeEnd   = "range_end"
	FieldCount      = "count"
	FieldTotal      = "total"
	FieldIsMaster   = "is_master"
	FieldCategory   = "category"
	FieldTier       = "tier"
	FieldBackend    = "backend"
	FieldArchiveID  = "archive_id"
	FieldListenerID = "listener_id"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentCodec    = "codec"
	ComponentClassify = "classify"
	ComponentStorage  = "storage"
	ComponentWatch    = "watch"
	ComponentService  = "service"
	ComponentAMQP     = "amqp"
	ComponentBackend  = "backend"
	ComponentCache    = "cache"
	ComponentCLI      = "cli"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpReplace  = "replace"
	OpSnapshot = "snapshot"
	OpRestore  = "restore"
	OpExport   = "export"
	OpImport   = "import"
	OpParse    = "parse"
	OpDecode   = "decode"
	OpNotify   = "notify"
	OpPublish  = "publish"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRange adds a millisecond range
func (f LogFields) WithRange(start, end int64) LogFields {
	f[FieldRangeStart] = start
	f[FieldRangeEnd] = end
	return f
}

// WithSnapshot adds snapshot fields
func (f LogFields) WithSnapshot(id, recordDate int64, total float64, master bool) LogFields {
	f[FieldSnapshotID] = id
	f[FieldRecordDate] = recordDate
	f[FieldTotal] = total
	f[FieldIsMaster] = master
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

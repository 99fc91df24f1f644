package photorec

// Event is the closed set of notifications a session emits. The controller is
// the only producer; the stream carries zero or more Progress, LogChunk, and
// Warning events followed by exactly one terminal event (Completed, Failed, or
// Cancelled), after which the channel is closed.
type Event interface {
	isEvent()
}

// Progress reports how far the session has advanced.
type Progress struct {
	FilesFound int
	// SpeedLabel is a human-readable read rate, e.g. "98 MB/s". Empty until
	// enough sector movement has been observed to compute one.
	SpeedLabel string
	// Percent is in [0,100], or -1 when no estimate is available yet.
	Percent    float64
	EtaSeconds int
}

// Completed is the successful terminal event.
type Completed struct {
	TotalFiles     int
	OutputLocation string
}

// Failed is the unsuccessful terminal event.
type Failed struct {
	Err *TaskError
}

// Cancelled is the terminal event for a user-cancelled session.
type Cancelled struct{}

// LogChunk carries sanitized engine output with consecutive duplicate lines
// removed. Chunks are batched by the poller, not per-line.
type LogChunk struct {
	Text string
}

// Warning is a soft, non-terminal notice, currently only used when the engine
// keeps writing output but none of it has matched the grammar for a while.
type Warning struct {
	Message string
}

func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}
func (Cancelled) isEvent() {}
func (LogChunk) isEvent()  {}
func (Warning) isEvent()   {}

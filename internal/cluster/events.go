package cluster

// ProgressEvent is a progress notification emitted by a Client while a
// long-running command executes. The set of variants is closed: UploadEvent,
// CommandStartEvent and CommandEndEvent.
type ProgressEvent interface {
	progressEvent()
}

// UploadEvent reports artifact upload progress to one node. Position is the
// number of bytes sent so far; Position == Total marks completion.
type UploadEvent struct {
	Filename string
	URL      string
	Position int64
	Total    int64
}

// CommandStartEvent is emitted right before a command is sent to a node.
type CommandStartEvent struct {
	Command string
	Args    []string
	Node    string
}

// CommandEndEvent is emitted after a node acknowledged a command.
type CommandEndEvent struct {
	Command string
	Args    []string
	Node    string
}

func (UploadEvent) progressEvent()       {}
func (CommandStartEvent) progressEvent() {}
func (CommandEndEvent) progressEvent()   {}

// ProgressFunc receives progress events. Clients serialize calls, so an
// implementation does not need its own locking.
type ProgressFunc func(ProgressEvent)

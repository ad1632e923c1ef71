package deployer

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/stretchr/testify/assert"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestDispatcherUploadEvents(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(captureLogger(&buf))

	d.Dispatch(cluster.UploadEvent{Filename: "shop.war", URL: "http://a", Position: 0, Total: 10})
	d.Dispatch(cluster.UploadEvent{Filename: "shop.war", URL: "http://a", Position: 4, Total: 10})
	d.Dispatch(cluster.UploadEvent{Filename: "shop.war", URL: "http://a", Position: 10, Total: 10})

	out := buf.String()
	assert.Contains(t, out, "starting to upload")
	assert.Contains(t, out, "completed uploading")
	assert.NotContains(t, out, "upload progress", "intermediate progress is debug only")
}

func TestDispatcherEmptyUpload(t *testing.T) {
	var buf bytes.Buffer
	NewDispatcher(captureLogger(&buf)).Dispatch(cluster.UploadEvent{Filename: "empty.war", URL: "http://a"})

	out := buf.String()
	assert.Contains(t, out, "starting to upload")
	assert.Contains(t, out, "completed uploading")
}

func TestDispatcherCommandEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   cluster.ProgressEvent
		want string
	}{
		{"deploy start", cluster.CommandStartEvent{Command: cluster.CmdDeploy, Args: []string{"shop.war", "/shop", "localhost"}, Node: "a"}, "attempting to deploy"},
		{"deploy end", cluster.CommandEndEvent{Command: cluster.CmdDeploy, Args: []string{"shop.war", "/shop", "localhost"}, Node: "a"}, "successfully deployed"},
		{"undeploy start", cluster.CommandStartEvent{Command: cluster.CmdUndeploy, Args: []string{"/shop", "localhost"}, Node: "a"}, "attempting to undeploy"},
		{"undeploy end", cluster.CommandEndEvent{Command: cluster.CmdUndeploy, Args: []string{"/shop", "localhost"}, Node: "a"}, "successfully undeployed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewDispatcher(captureLogger(&buf)).Dispatch(tt.ev)
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "context=/shop")
			assert.Contains(t, buf.String(), "node=a")
		})
	}
}

func TestDispatcherIgnoresOtherCommands(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(captureLogger(&buf))

	var seen int
	d.Subscribe(func(cluster.ProgressEvent) { seen++ })

	d.Dispatch(cluster.CommandStartEvent{Command: cluster.CmdRunGC, Node: "a"})
	d.Dispatch(cluster.CommandEndEvent{Command: cluster.CmdFindPoolsOver, Args: []string{"50"}, Node: "a"})

	assert.Empty(t, buf.String())
	assert.Equal(t, 2, seen, "observers still see every event")
}

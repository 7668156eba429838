package pipeline

import "net/http"

// discardSink is an http.ResponseWriter + http.Flusher that throws away
// everything written to it. The direct and tools_unified strategies run
// the same C7 orchestrator loop as the streaming strategies (so the
// tool-calling logic has exactly one implementation), but their HTTP
// response is a single buffered JSON body built from the orchestrator's
// Result rather than the SSE frames — this sink gives sse.Open
// something to write the frames into without them ever reaching the
// real client.
type discardSink struct {
	header http.Header
}

func newDiscardSink() *discardSink {
	return &discardSink{header: make(http.Header)}
}

func (d *discardSink) Header() http.Header         { return d.header }
func (d *discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (d *discardSink) WriteHeader(int)             {}
func (d *discardSink) Flush()                      {}

package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/pipeline"
	"github.com/HendryAvila/forge/internal/snapshot"
)

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	store, err := snapshot.New(snapshot.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cls := classifier.New(zerolog.Nop())
	if err := cls.Register(classifier.MarkerVoter{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := pipeline.New(context.Background(), store, cls, nil, pipeline.Config{PeerID: "local"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

func TestStatusResource_Definition(t *testing.T) {
	h := NewHandler(newTestPipeline(t))
	res := h.StatusResource()
	if res.URI != StatusURI {
		t.Errorf("URI = %q, want %q", res.URI, StatusURI)
	}
	if res.MIMEType != "application/json" {
		t.Errorf("MIMEType = %q", res.MIMEType)
	}
}

func TestHandleStatus(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.Receive([]oplog.Operation{{
		PeerID: "remote", Lamport: 1, Seq: 1, Path: "r.txt", Kind: oplog.KindInsert, Content: "x",
	}}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	p.Classifier().Veto("locked.txt", "user", "frozen")

	req := mcp.ReadResourceRequest{}
	req.Params.URI = StatusURI
	contents, err := NewHandler(p).HandleStatus(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content type = %T", contents[0])
	}

	var st pipeline.Status
	if err := json.Unmarshal([]byte(tc.Text), &st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.Branch != "main" {
		t.Errorf("branch = %q, want main", st.Branch)
	}
	if st.Peer != "local" {
		t.Errorf("peer = %q, want local", st.Peer)
	}
	if st.Head == "" || st.Head != st.Epoch {
		t.Errorf("head = %q epoch = %q, want equal and set", st.Head, st.Epoch)
	}
	if len(st.Uncommitted) != 1 || st.Uncommitted[0] != "r.txt" {
		t.Errorf("uncommitted = %v, want [r.txt]", st.Uncommitted)
	}
	if st.Clock < 1 {
		t.Errorf("clock = %d, want at least 1", st.Clock)
	}
	if len(st.Voters) != 1 || st.Voters[0] != "markers" {
		t.Errorf("voters = %v, want [markers]", st.Voters)
	}
	if st.Vetoes["locked.txt"].Reason != "frozen" {
		t.Errorf("vetoes = %v", st.Vetoes)
	}
}

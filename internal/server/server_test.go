package server

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/forge/internal/config"
	"github.com/HendryAvila/forge/internal/oplog"
	"github.com/HendryAvila/forge/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Journal.SyncWrites = false
	return cfg
}

func TestOpen_RegistersConfiguredVoters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Voters.Markers = false
	cfg.Voters.MaxLines = 0

	ws, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, []string{"path"}, ws.Classifier.Voters())
}

func TestOpen_DefaultVoters(t *testing.T) {
	ws, err := Open(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, []string{"markers", "path", "size"}, ws.Classifier.Voters())
}

func TestOpen_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	ws, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	res, err := ws.Pipeline.Apply(ctx, pipeline.Proposal{
		Ops: []oplog.Operation{{Path: "notes.md", Kind: oplog.KindInsert, Content: "hello\n"}},
	})
	require.NoError(t, err)
	require.True(t, res.Committed)
	peer := ws.Pipeline.Log().Peer()
	require.NoError(t, ws.Close())

	ws, err = Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, peer, ws.Pipeline.Log().Peer())
	st, err := ws.Pipeline.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.ID, st.Head)
	text, err := ws.Pipeline.Log().Materialize("notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", text)
}

func TestOpen_ConfiguredPeerID(t *testing.T) {
	cfg := testConfig(t)
	cfg.PeerID = "laptop"
	ws, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "laptop", ws.Pipeline.Log().Peer())
}

func TestNew_BuildsServer(t *testing.T) {
	ws, err := Open(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer ws.Close()

	assert.NotNil(t, New(ws))
}

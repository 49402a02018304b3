package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/config"
	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

func newDemoTree(t *testing.T) (*scene.Tree, *demoScene) {
	t.Helper()
	reg, err := sprites.NewRegistry()
	require.NoError(t, err)
	tree, err := scene.NewTree(scene.RoleProducer, reg)
	require.NoError(t, err)
	demo, err := newDemoScene(tree, "lobby")
	require.NoError(t, err)
	return tree, demo
}

func encodeFrame(t *testing.T, msgType frame.MessageType, seq uint64, write func(*wire.Buffer) (scene.WriteStats, error)) []byte {
	t.Helper()
	buf := wire.NewBuffer(256)
	_, err := write(buf)
	require.NoError(t, err)
	f := frame.New(msgType, seq, buf.Bytes())
	if msgType == frame.MessageSnapshot {
		f.Header.Flags = frame.FlagFullState
	}
	b, err := frame.Encode(f, frame.DefaultLimits())
	require.NoError(t, err)
	return b
}

func TestDemoSceneQuietTicksProduceNoDiff(t *testing.T) {
	testlog.Start(t)
	tree, demo := newDemoTree(t)
	assert.Equal(t, 5, tree.Len())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, demo.Update(tree, engine.Tick{Count: 10, Now: now}))
	stats, err := tree.WriteDiff(wire.NewBuffer(256))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Records)

	require.NoError(t, demo.Update(tree, engine.Tick{Count: 10, Now: now}))
	stats, err = tree.WriteDiff(wire.NewBuffer(256))
	require.NoError(t, err)
	assert.Zero(t, stats.Records)

	require.NoError(t, demo.Update(tree, engine.Tick{Count: 11, Now: now}))
	stats, err = tree.WriteDiff(wire.NewBuffer(256))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records, "only the marker moves within a second")
}

func TestDecodeCaptureReplaysFrames(t *testing.T) {
	testlog.Start(t)
	tree, demo := newDemoTree(t)

	var capture []byte
	capture = append(capture, encodeFrame(t, frame.MessageSnapshot, 0, tree.WriteSnapshot)...)
	_, err := tree.WriteDiff(wire.NewBuffer(256))
	require.NoError(t, err)
	require.NoError(t, demo.Update(tree, engine.Tick{Count: 60, Now: time.Now()}))
	capture = append(capture, encodeFrame(t, frame.MessageDiff, 1, tree.WriteDiff)...)
	hb, err := frame.Encode(frame.New(frame.MessageHeartbeat, 1, nil), frame.DefaultLimits())
	require.NoError(t, err)
	capture = append(capture, hb...)

	report, err := decodeCapture(capture, decodeOptions{})
	require.NoError(t, err)
	require.Len(t, report.Frames, 3)
	assert.Equal(t, frame.MessageSnapshot.String(), report.Frames[0].Type)
	assert.Equal(t, frame.FlagFullState, report.Frames[0].Flags)
	assert.Equal(t, 4, report.Frames[0].Stats.Created)
	assert.Equal(t, uint64(1), report.Frames[1].Sequence)
	assert.Empty(t, report.Frames[1].Error)
	assert.Zero(t, report.Frames[2].Stats.Records)
	assert.Empty(t, report.Orphans)

	require.Len(t, report.Tree.Children, 1)
	backdrop := report.Tree.Children[0]
	require.Len(t, backdrop.Children, 3)
	assert.Equal(t, "lobby", backdrop.Children[0].Attributes["text"])
	assert.Equal(t, demo.marker.Describe(false).Position, backdrop.Children[2].Position)

	_, err = decodeCapture(capture[:len(capture)-3], decodeOptions{})
	assert.ErrorIs(t, err, frame.ErrShortHeader)
}

func TestDecodeHexPayload(t *testing.T) {
	testlog.Start(t)
	report, err := decodeCapture([]byte("01 01 00000007 02 00000001 00\n00"), decodeOptions{hex: true, payload: true})
	require.NoError(t, err)
	require.Len(t, report.Frames, 1)
	assert.Equal(t, 1, report.Frames[0].Stats.Created)
	require.Len(t, report.Tree.Children, 1)
	assert.Equal(t, scene.NodeID(7), report.Tree.Children[0].ID)

	report, err = decodeCapture([]byte("010900"), decodeOptions{hex: true, payload: true})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Frames[0].Error)

	_, err = decodeCapture([]byte("zz"), decodeOptions{hex: true})
	assert.Error(t, err)
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, config.WriteTemplate(path, "server", false))

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--listen", "127.0.0.1:0", "--token", "override", "--tick", "10ms"}))
	cfg, err := serveConfig(cmd, serveOptions{
		configPath: path,
		listen:     "127.0.0.1:0",
		token:      "override",
		tick:       10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "wall", cfg.Name)
	assert.Equal(t, "127.0.0.1:0", cfg.Listen)
	assert.Equal(t, 10*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, config.AuthConfig{Mode: config.AuthModeToken, Token: "override"}, cfg.Auth)

	cmd = newMirrorCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--transport", "ws"}))
	_, err = mirrorConfig(cmd, mirrorOptions{transport: "ws"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig, "the default address is not a url")
}

func TestVersionCommand(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "scenectl dev")
	assert.Contains(t, out.String(), "protocol: 1")
}

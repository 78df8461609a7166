package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerkit/ledgerkit/cmd/ledgerctl/common"
	"github.com/ledgerkit/ledgerkit/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDaemon(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m, err := manager.New(&manager.Config{
		Listener:        l,
		QueueSize:       16,
		DeliveryTimeout: time.Second,
	})
	require.NoError(t, err)
	go m.Run(context.Background())
	t.Cleanup(m.Stop)
	return m.Addr().String()
}

func ctl(t *testing.T, args ...string) (int, string) {
	var out bytes.Buffer
	mainCmd.SetOut(&out)
	mainCmd.SetErr(&out)
	defer func() {
		mainCmd.SetOut(nil)
		mainCmd.SetErr(nil)
	}()
	return run(args), out.String()
}

func TestApplyThenSnapshot(t *testing.T) {
	addr := startDaemon(t)

	path := filepath.Join(t.TempDir(), "tx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
outputs:
  - participants: [alice]
    schema: iou
    data:
      value: 10
`), 0600))

	code, out := ctl(t, "--addr", addr, "-o", "json", "apply", "-f", path)
	require.Equal(t, 0, code, out)

	var committed struct {
		Sequence uint64 `json:"sequence"`
		Outputs  []struct {
			LinearID string `json:"linear_id"`
		} `json:"outputs"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &committed))
	assert.Equal(t, uint64(1), committed.Sequence)
	require.Len(t, committed.Outputs, 1)

	code, out = ctl(t, "--addr", addr, "-o", "json", "snapshot", "-p", "alice", "--where", "payload.value >= 10")
	require.Equal(t, 0, code, out)

	var snapshot struct {
		Cursor uint64 `json:"cursor"`
		States []struct {
			LinearID string `json:"linear_id"`
		} `json:"states"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &snapshot))
	assert.Equal(t, uint64(1), snapshot.Cursor)
	require.Len(t, snapshot.States, 1)
	assert.Equal(t, committed.Outputs[0].LinearID, snapshot.States[0].LinearID)

	code, out = ctl(t, "--addr", addr, "-o", "table", "history", committed.Outputs[0].LinearID)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, committed.Outputs[0].LinearID)
}

func TestExitCodes(t *testing.T) {
	// nothing listens on a closed listener's port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	code, _ := ctl(t, "--addr", addr, "--timeout", "500ms", "-o", "table", "snapshot")
	assert.Equal(t, common.ExitNotConnected, code)

	code, out := ctl(t, "--addr", addr, "-o", "table", "history")
	assert.Equal(t, common.ExitError, code)
	assert.Contains(t, out, "Usage:")

	code, _ = ctl(t, "--addr", addr, "-o", "table", "snapshot", "--where", "payload.value >")
	assert.Equal(t, common.ExitError, code)

	code, out = ctl(t, "--addr", addr, "-o", "table", "txs", "--interval", "0")
	assert.Equal(t, common.ExitError, code)
	assert.Contains(t, out, "--interval must be positive")

	code, _ = ctl(t, "--addr", addr, "-o", "table", "txs", "--interval", "1s", "--limit=-1")
	assert.Equal(t, common.ExitError, code)
}

package manager

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/client"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iou(participants ...string) *api.LinearState {
	return &api.LinearState{
		Participants: participants,
		Payload:      api.Payload{Schema: "iou", Data: []byte(`{"value":1}`)},
	}
}

func startManager(t *testing.T, stateDir string) (*Manager, <-chan error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m, err := New(&Config{
		Listener:        l,
		StateDir:        stateDir,
		QueueSize:       16,
		DeliveryTimeout: time.Second,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background())
	}()
	return m, done
}

func connect(t *testing.T, m *Manager) *client.Connection {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx, m.Addr().String(), client.Credentials{User: "alice", Password: "secret"})
	require.NoError(t, err)
	return conn
}

func TestManager(t *testing.T) {
	stateDir, err := os.MkdirTemp("", "ledgerkit-manager")
	require.NoError(t, err)
	defer os.RemoveAll(stateDir)
	ctx := context.Background()

	m, done := startManager(t, stateDir)
	conn := connect(t, m)

	tx1, err := conn.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{iou("alice")}})
	require.NoError(t, err)
	a := tx1.Outputs[0]

	feed, err := conn.SnapshotAndSubscribe(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, feed.Snapshot)
	assert.Equal(t, uint64(1), feed.Snapshot.Cursor)
	assert.Len(t, feed.Snapshot.States, 1)

	b := iou("alice")
	b.LinearID = a.LinearID
	tx2, err := conn.Apply(ctx, &api.Transaction{Inputs: []uint64{a.RevisionID}, Outputs: []*api.LinearState{b}})
	require.NoError(t, err)

	ev, err := feed.Next()
	require.NoError(t, err)
	assert.Equal(t, tx2.ID, ev.TxID)
	assert.Equal(t, uint64(2), feed.Cursor())

	_, err = conn.Apply(ctx, &api.Transaction{Inputs: []uint64{a.RevisionID}})
	assert.True(t, api.IsConflict(err))

	// Stopping ends open feeds.
	m.Stop()
	assert.NoError(t, <-done)
	_, err = feed.Next()
	assert.Error(t, err)
	conn.Close()

	// A restarted manager replays the journal.
	m, done = startManager(t, stateDir)
	defer func() {
		m.Stop()
		<-done
	}()
	conn = connect(t, m)
	defer conn.Close()

	snap, err := conn.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Cursor)
	require.Len(t, snap.States, 1)
	assert.Equal(t, tx2.Outputs[0].RevisionID, snap.States[0].RevisionID)

	history, err := conn.History(ctx, a.LinearID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSchemaRegistry(t *testing.T) {
	ctx := context.Background()
	m, done := startManager(t, "")
	defer func() {
		m.Stop()
		<-done
	}()

	// "kv" payloads are key=value pairs, not JSON
	m.Schemas().Register("kv", schema.MapperFunc(func(data []byte) (interface{}, error) {
		fields := make(map[string]interface{})
		for _, pair := range strings.Split(string(data), ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return nil, errors.Errorf("malformed pair %q", pair)
			}
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return nil, err
			}
			fields[kv[0]] = n
		}
		return fields, nil
	}))

	conn := connect(t, m)
	defer conn.Close()

	state := &api.LinearState{
		Participants: []string{"alice"},
		Payload:      api.Payload{Schema: "kv", Data: []byte("value=10,owed=3")},
	}
	_, err := conn.Apply(ctx, &api.Transaction{Outputs: []*api.LinearState{state}})
	require.NoError(t, err)

	snap, err := conn.Snapshot(ctx, &api.Filter{Expression: "payload.value == 10 && payload.owed < 5"})
	require.NoError(t, err)
	assert.Len(t, snap.States, 1)

	snap, err = conn.Snapshot(ctx, &api.Filter{Expression: "payload.value == 11"})
	require.NoError(t, err)
	assert.Empty(t, snap.States)
}

func TestConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = client.Connect(ctx, addr, client.Credentials{})
	require.Error(t, err)
	assert.True(t, api.IsNotConnected(err))
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4243", config.ListenAddr)
	assert.Equal(t, 64, config.QueueSize)
	assert.Equal(t, 10*time.Second, config.DeliveryTimeout)

	t.Setenv("LEDGERKIT_LISTEN_ADDR", "unix:///tmp/ledgerkit.sock")
	t.Setenv("LEDGERKIT_QUEUE_SIZE", "8")
	t.Setenv("LEDGERKIT_DELIVERY_TIMEOUT", "250ms")
	t.Setenv("LEDGERKIT_STATE_DIR", "/var/lib/ledgerkit")

	config, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "unix:///tmp/ledgerkit.sock", config.ListenAddr)
	assert.Equal(t, 8, config.QueueSize)
	assert.Equal(t, 250*time.Millisecond, config.DeliveryTimeout)
	assert.Equal(t, "/var/lib/ledgerkit", config.StateDir)

	t.Setenv("LEDGERKIT_QUEUE_SIZE", "many")
	_, err = LoadConfig()
	assert.Error(t, err)
}

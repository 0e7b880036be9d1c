package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	ch := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("ctx.>", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(NATSConfig{URL: server.ClientURL(), SubjectPrefix: "ctx."}, nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), Event{Type: TypeDocumentAdded, Database: "kb", DocumentID: "abc"})
	require.NoError(t, err)
	require.NoError(t, p.nc.Flush())

	select {
	case msg := <-ch:
		assert.Equal(t, "ctx.document.added", msg.Subject)
		var e Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, "kb", e.Database)
		assert.Equal(t, "abc", e.DocumentID)
		assert.False(t, e.Time.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNATSPublisher_FromConnNotOwned(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisherFromConn(nc, "", nil)
	assert.Equal(t, "contextdb.database.created", p.Subject(TypeDatabaseCreated))

	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected(), "borrowed connection must stay open")
}

func TestNewNATSPublisher_RequiresURL(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{}, nil)
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeDatabaseDeleted}))
	assert.NoError(t, p.Close())
}

package retrieve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu    sync.Mutex
	paths []string
	sent  chan string
}

func newRecordingPoster() *recordingPoster {
	return &recordingPoster{sent: make(chan string, 16)}
}

func (p *recordingPoster) Send(action protocol.Action, arg any) error {
	req := arg.(protocol.RetrieveFile)
	p.mu.Lock()
	p.paths = append(p.paths, req.Path)
	p.mu.Unlock()
	p.sent <- req.Path
	return nil
}

func (p *recordingPoster) wait(t *testing.T) string {
	t.Helper()
	select {
	case path := <-p.sent:
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("no request posted")
		return ""
	}
}

func TestTree(t *testing.T) {
	tree := NewTree(types.FileTree{"a.css": {Data: "body{}", MimeType: "text/css"}})

	rec, err := tree.Retrieve(context.Background(), "a.css")
	require.NoError(t, err)
	assert.Equal(t, "a.css", rec.Path)
	assert.Equal(t, "body{}", rec.Data)

	_, err = tree.Retrieve(context.Background(), "missing.css")
	assert.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestRelayOutOfOrderReplies(t *testing.T) {
	poster := newRecordingPoster()
	relay := NewRelay(poster)
	ctx := context.Background()

	type result struct {
		rec types.FileRecord
		err error
	}
	xDone := make(chan result, 1)
	yDone := make(chan result, 1)

	go func() {
		rec, err := relay.Retrieve(ctx, "x.png")
		xDone <- result{rec, err}
	}()
	poster.wait(t)
	go func() {
		rec, err := relay.Retrieve(ctx, "y.png")
		yDone <- result{rec, err}
	}()
	poster.wait(t)

	assert.True(t, relay.Deliver(protocol.SendFile{Path: "y.png", Found: true, File: &types.FileRecord{Data: "YYYY", MimeType: "image/png"}}))
	assert.True(t, relay.Deliver(protocol.SendFile{Path: "x.png", Found: true, File: &types.FileRecord{Data: "XXXX", MimeType: "image/png"}}))

	x := <-xDone
	y := <-yDone
	require.NoError(t, x.err)
	require.NoError(t, y.err)
	assert.Equal(t, "XXXX", x.rec.Data)
	assert.Equal(t, "x.png", x.rec.Path)
	assert.Equal(t, "YYYY", y.rec.Data)
	assert.Zero(t, relay.Pending())
}

func TestRelaySharesRequestsForOnePath(t *testing.T) {
	poster := newRecordingPoster()
	relay := NewRelay(poster)

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := relay.Retrieve(context.Background(), "shared.css")
			if err == nil {
				results[i] = rec.Data
			}
		}(i)
	}

	poster.wait(t)
	require.Eventually(t, func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return len(relay.waiters["shared.css"]) == 3
	}, 2*time.Second, 5*time.Millisecond)

	relay.Deliver(protocol.SendFile{Path: "shared.css", Found: true, File: &types.FileRecord{Data: "p{}"}})
	wg.Wait()

	assert.Equal(t, []string{"p{}", "p{}", "p{}"}, results)
	poster.mu.Lock()
	assert.Equal(t, []string{"shared.css"}, poster.paths)
	poster.mu.Unlock()
}

func TestRelayNotFound(t *testing.T) {
	poster := newRecordingPoster()
	relay := NewRelay(poster)

	errc := make(chan error, 1)
	go func() {
		_, err := relay.Retrieve(context.Background(), "gone.png")
		errc <- err
	}()
	poster.wait(t)
	relay.Deliver(protocol.SendFile{Path: "gone.png"})

	assert.ErrorIs(t, <-errc, types.ErrResourceNotFound)
}

func TestRelayStaleReply(t *testing.T) {
	relay := NewRelay(newRecordingPoster())
	assert.False(t, relay.Deliver(protocol.SendFile{Path: "nobody.png", Found: true, File: &types.FileRecord{}}))
}

func TestRelayClose(t *testing.T) {
	poster := newRecordingPoster()
	relay := NewRelay(poster)

	errc := make(chan error, 1)
	go func() {
		_, err := relay.Retrieve(context.Background(), "slow.png")
		errc <- err
	}()
	poster.wait(t)

	relay.Close()
	assert.ErrorIs(t, <-errc, ErrDisposed)

	_, err := relay.Retrieve(context.Background(), "after.png")
	assert.ErrorIs(t, err, ErrDisposed)
	relay.Close()
}

func TestRelayContextCancel(t *testing.T) {
	poster := newRecordingPoster()
	relay := NewRelay(poster)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := relay.Retrieve(ctx, "slow.png")
		errc <- err
	}()
	poster.wait(t)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Zero(t, relay.Pending())
}

func TestRelayOverPipe(t *testing.T) {
	host, content := protocol.Pipe()
	defer host.Close()

	relay := NewRelay(content)
	go func() {
		for msg := range content.Messages() {
			var reply protocol.SendFile
			if msg.Decode(&reply) == nil {
				relay.Deliver(reply)
			}
		}
	}()
	go func() {
		for msg := range host.Messages() {
			var req protocol.RetrieveFile
			if msg.Decode(&req) != nil {
				continue
			}
			_ = host.Send(protocol.ActionSendFile, protocol.SendFile{
				Path:  req.Path,
				Found: true,
				File:  &types.FileRecord{Data: "data:" + req.Path},
			})
		}
	}()

	rec, err := relay.Retrieve(context.Background(), "img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "data:img/a.png", rec.Data)
}

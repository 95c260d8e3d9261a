package protocol

import (
	"errors"
	"sync"

	"github.com/bytedance/sonic"
)

// ErrClosed is returned when posting on a disposed pipe.
var ErrClosed = errors.New("protocol: pipe closed")

// Side names the end of a pipe.
type Side string

const (
	SideHost    Side = "host"
	SideContent Side = "content"
)

// Tap observes every message accepted by Post.
type Tap func(from Side, msg Message)

// Port is one end of a pipe.
type Port struct {
	side Side
	in   *queue
	peer *queue
	link *link
}

type link struct {
	once sync.Once
	done chan struct{}
	tap  Tap
	ends [2]*queue
}

// Option configures a pipe.
type Option func(*link)

// WithTap installs an observer on both directions.
func WithTap(t Tap) Option {
	return func(l *link) { l.tap = t }
}

// Pipe creates a connected host/content pair. Each direction is an unbounded
// FIFO; messages are encoded on Post and decoded on delivery, so neither side
// can observe the other's memory.
func Pipe(opts ...Option) (host, content *Port) {
	l := &link{done: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}

	toHost := newQueue(l.done)
	toContent := newQueue(l.done)
	l.ends = [2]*queue{toHost, toContent}

	host = &Port{side: SideHost, in: toHost, peer: toContent, link: l}
	content = &Port{side: SideContent, in: toContent, peer: toHost, link: l}
	return host, content
}

// Side reports which end this port is.
func (p *Port) Side() Side {
	return p.side
}

// Post sends a message to the other end.
func (p *Port) Post(msg Message) error {
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.peer.push(raw); err != nil {
		return err
	}
	if p.link.tap != nil {
		p.link.tap(p.side, msg)
	}
	return nil
}

// Send builds and posts a message.
func (p *Port) Send(action Action, arg any) error {
	msg, err := NewMessage(action, arg)
	if err != nil {
		return err
	}
	return p.Post(msg)
}

// Messages delivers inbound messages in send order. The channel is closed
// when the pipe is closed.
func (p *Port) Messages() <-chan Message {
	return p.in.out
}

// Done is closed once the pipe is closed.
func (p *Port) Done() <-chan struct{} {
	return p.link.done
}

// Close disposes the whole pipe. Undelivered messages are dropped.
func (p *Port) Close() error {
	p.link.once.Do(func() {
		for _, q := range p.link.ends {
			q.close()
		}
		close(p.link.done)
	})
	return nil
}

type queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	signal chan struct{}
	done   <-chan struct{}
	out    chan Message
}

func newQueue(done <-chan struct{}) *queue {
	q := &queue{
		signal: make(chan struct{}, 1),
		done:   done,
		out:    make(chan Message),
	}
	go q.pump()
	return q
}

func (q *queue) push(raw []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, raw)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
			case <-q.done:
				return
			}
			continue
		}
		raw := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		var msg Message
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			continue
		}
		select {
		case q.out <- msg:
		case <-q.done:
			return
		}
	}
}

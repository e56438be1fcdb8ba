package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/live"
	"campuscart/chat-service/internal/models"
)

const (
	defaultMinBackoff  = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	defaultReadTimeout = 60 * time.Second
	pongWriteWait      = 10 * time.Second
)

type LiveOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnError receives every channel failure. Live updates are absent until
	// the next successful reconnect.
	OnError func(error)
	Dialer  *websocket.Dialer
	// ReadTimeout is how long the connection may stay silent. The server
	// pings well within it, so a silent connection is a dead one.
	ReadTimeout time.Duration
}

// Live keeps one websocket session to the chat server open, reconnecting
// with exponential backoff, and fans incoming events out to subscribers.
type Live struct {
	wsURL    string
	identity Identity
	opts     LiveOptions
	logger   *logrus.Logger

	mu         sync.Mutex
	nextID     int
	subs       map[int]func(models.LiveEvent)
	reconnects map[int]func()
	connected  bool
}

func NewLive(wsURL string, identity Identity, opts LiveOptions, logger *logrus.Logger) *Live {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	return &Live{
		wsURL:      wsURL,
		identity:   identity,
		opts:       opts,
		logger:     logger,
		subs:       make(map[int]func(models.LiveEvent)),
		reconnects: make(map[int]func()),
	}
}

// Subscribe registers fn for every incoming event. The returned func removes
// it and is safe to call more than once.
func (l *Live) Subscribe(fn func(models.LiveEvent)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subs[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// OnReconnect registers fn to run after every reconnect that follows a
// dropped session. Consumers use it to re-fetch what they may have missed.
func (l *Live) OnReconnect(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.reconnects[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.reconnects, id)
	}
}

func (l *Live) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Live) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *Live) reportError(err error) {
	l.logger.WithError(err).Warn("Live channel error")
	if l.opts.OnError != nil {
		l.opts.OnError(err)
	}
}

func (l *Live) dispatch(ev models.LiveEvent) {
	l.mu.Lock()
	subs := make([]func(models.LiveEvent), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (l *Live) fireReconnect() {
	l.mu.Lock()
	hooks := make([]func(), 0, len(l.reconnects))
	for _, fn := range l.reconnects {
		hooks = append(hooks, fn)
	}
	l.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		return limit
	}
	return cur
}

// Run keeps the session alive until ctx is done. It only returns early when
// the server rejects the credential, since retrying cannot fix that.
func (l *Live) Run(ctx context.Context) error {
	backoff := l.opts.MinBackoff
	sessions := 0

	for {
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apperr.Is(err, apperr.KindAuth) {
				l.reportError(err)
				return err
			}
			l.reportError(err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, l.opts.MaxBackoff)
			continue
		}

		backoff = l.opts.MinBackoff
		l.setConnected(true)
		sessions++
		if sessions > 1 {
			l.logger.Info("Live channel reconnected")
			l.fireReconnect()
		}

		err = l.read(ctx, conn)
		l.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		l.reportError(err)
	}
}

func (l *Live) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(l.wsURL)
	if err != nil {
		return nil, apperr.Validation("invalid live channel url")
	}
	q := u.Query()
	q.Set("token", l.identity.Token)
	u.RawQuery = q.Encode()

	conn, resp, err := l.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apperr.Auth("live channel rejected credential")
		}
		return nil, apperr.Channel("live channel connect failed", err)
	}
	return conn, nil
}

// read consumes frames until the connection drops or ctx ends.
func (l *Live) read(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pongWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return apperr.Channel("live channel dropped", err)
		}
		extend()

		var frame live.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			l.logger.WithError(err).Debug("Ignoring malformed live frame")
			continue
		}

		switch frame.Type {
		case live.FrameNewMessage:
			if frame.Message != nil {
				l.dispatch(*frame.Message)
			}
		case live.FrameError:
			l.logger.WithField("error", frame.Error).Warn("Live channel reported an error")
		}
	}
}

package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// ============================================================
// Фейковый транспорт
// ============================================================

// fakeStream записывает отправленные кадры и позволяет «доставить» входящие
type fakeStream struct {
	mu         sync.Mutex
	url        string
	h          wsHandlers
	sent       [][]byte
	connectErr error
	sendErr    error
	closed     bool
}

func (f *fakeStream) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.h.OnConnect != nil {
		return f.h.OnConnect()
	}
	return nil
}

func (f *fakeStream) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) deliver(frame string) {
	f.h.OnMessage([]byte(frame))
}

func (f *fakeStream) drop(err error) {
	f.h.OnDisconnect(err)
}

func (f *fakeStream) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// lastFrame декодирует последний отправленный кадр в map
func (f *fakeStream) lastFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	frames := f.frames()
	if len(frames) == 0 {
		t.Fatal("no frames sent")
	}
	var out map[string]interface{}
	if err := json.Unmarshal(frames[len(frames)-1], &out); err != nil {
		t.Fatalf("decode frame %s: %v", frames[len(frames)-1], err)
	}
	return out
}

// fakeDialer - streamFactory, запоминающая потоки по URL
type fakeDialer struct {
	mu         sync.Mutex
	streams    map[string]*fakeStream
	connectErr error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{streams: make(map[string]*fakeStream)}
}

func (d *fakeDialer) factory(name, url string, cfg WSConfig, h wsHandlers, log *utils.Logger) stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{url: url, h: h, connectErr: d.connectErr}
	d.streams[url] = s
	return s
}

func (d *fakeDialer) get(t *testing.T, url string) *fakeStream {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[url]
	if !ok {
		t.Fatalf("stream %q was not opened", url)
	}
	return s
}

// ============================================================
// Фейковая шина
// ============================================================

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) tickers() []models.TickerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.TickerEvent
	for _, ev := range p.events {
		if te, ok := ev.(models.TickerEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

// ============================================================
// Опции
// ============================================================

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(d *fakeDialer, pub *recordingPublisher, clock *testClock) Options {
	return Options{
		Symbols:    []string{"BTC", "ETH"},
		Publisher:  pub,
		Logger:     utils.NewNopLogger(),
		PublicURL:  "public",
		PrivateURL: "private",
		Now:        clock.Now,
		streams:    d.factory,
	}
}

func withCredentials(opts Options) Options {
	opts.Credentials = Credentials{APIKey: "key", Secret: "secret"}
	return opts
}

var errTransport = errors.New("connection reset by peer")

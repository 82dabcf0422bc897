package loki

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Logger receives the pusher's own failures. It must not write back into the pusher.
type Logger interface {
	Error(msg string, args ...any)
}

type Config struct {
	// Url of the push endpoint, e.g. https://example-prod.grafana.net/loki/api/v1/push
	Url string `validate:"required,url"`

	// TenantID is sent as X-Scope-OrgID when set.
	TenantID string

	Username string
	Password string

	// Labels are attached to every stream. The entry level is always added as the "level" label.
	Labels map[string]string

	BatchMaxSize int           `validate:"gte=1"`
	BatchMaxWait time.Duration `validate:"gte=1"`
	BufferSize   int           `validate:"gte=1"`

	// MaxAttempts bounds delivery of one batch, retries happen on network errors, 429 and 5xx.
	MaxAttempts  int           `validate:"gte=1"`
	RetryBackoff time.Duration `validate:"gte=0"`
}

func (cfg *Config) setDefaults() {
	if cfg.BatchMaxSize == 0 {
		cfg.BatchMaxSize = 500
	}
	if cfg.BatchMaxWait == 0 {
		cfg.BatchMaxWait = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4096
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
}

// Entry is a single log line. Fields are encoded into the line body, not into labels.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Caller  string
	Fields  map[string]string
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// retryableError marks responses worth another attempt.
type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

type Pusher struct {
	cfg     Config
	client  *http.Client
	logger  Logger
	entries chan Entry
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	sent    atomic.Int64
	batch   []Entry
}

func New(cfg Config, logger Logger) (*Pusher, error) {

	cfg.setDefaults()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}

	p := &Pusher{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		entries: make(chan Entry, cfg.BufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		batch:   make([]Entry, 0, cfg.BatchMaxSize),
	}
	go p.run()
	return p, nil
}

// Push queues an entry without blocking. Entries are dropped when the buffer is full or the pusher is stopped.
func (p *Pusher) Push(e Entry) {
	select {
	case <-p.quit:
		p.dropped.Add(1)
		return
	default:
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	select {
	case p.entries <- e:
	default:
		p.dropped.Add(1)
	}
}

func (p *Pusher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pusher) Sent() int64 {
	return p.sent.Load()
}

// Stop flushes what is queued and waits for the last push. Safe to call more than once.
func (p *Pusher) Stop() {
	p.once.Do(func() {
		close(p.quit)
		<-p.done
	})
}

func (p *Pusher) run() {

	defer close(p.done)

	ticker := time.NewTicker(p.cfg.BatchMaxWait)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			p.drain()
			p.flush()
			return
		case e := <-p.entries:
			p.batch = append(p.batch, e)
			if len(p.batch) >= p.cfg.BatchMaxSize {
				p.flush()
			}
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *Pusher) drain() {
	for {
		select {
		case e := <-p.entries:
			p.batch = append(p.batch, e)
		default:
			return
		}
	}
}

func (p *Pusher) flush() {

	if len(p.batch) == 0 {
		return
	}
	defer func() { p.batch = p.batch[:0] }()

	body, err := encode(p.cfg.Labels, p.batch)
	if err != nil {
		p.logger.Error("failed to encode loki batch", "error", err)
		return
	}

	_, _, err = lo.AttemptWhileWithDelay(p.cfg.MaxAttempts, p.cfg.RetryBackoff, func(int, time.Duration) (error, bool) {
		err := p.send(body)
		var retryable retryableError
		return err, errors.As(err, &retryable)
	})
	if err != nil {
		p.dropped.Add(int64(len(p.batch)))
		p.logger.Error("failed to push logs", "error", err, "entries", len(p.batch))
		return
	}
	p.sent.Add(int64(len(p.batch)))
}

// encode groups entries into one stream per level and gzips the push request.
func encode(labels map[string]string, entries []Entry) ([]byte, error) {

	byLevel := make(map[string]*stream)
	for _, e := range entries {
		s, ok := byLevel[e.Level]
		if !ok {
			streamLabels := make(map[string]string, len(labels)+1)
			for k, v := range labels {
				streamLabels[k] = v
			}
			streamLabels["level"] = e.Level
			s = &stream{Stream: streamLabels}
			byLevel[e.Level] = s
		}

		line, err := json.Marshal(lineBody(e))
		if err != nil {
			return nil, err
		}
		s.Values = append(s.Values, [2]string{strconv.FormatInt(e.Time.UnixNano(), 10), string(line)})
	}

	levels := make([]string, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	req := pushRequest{Streams: make([]stream, 0, len(levels))}
	for _, level := range levels {
		req.Streams = append(req.Streams, *byLevel[level])
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(req); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lineBody(e Entry) map[string]string {
	body := make(map[string]string, len(e.Fields)+2)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["msg"] = e.Message
	if e.Caller != "" {
		body["caller"] = e.Caller
	}
	return body
}

func (p *Pusher) send(body []byte) error {

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.cfg.Url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if p.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", p.cfg.TenantID)
	}
	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return retryableError{fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("unexpected response from loki: %s, body: %s", resp.Status, string(text))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retryableError{err}
	}
	return err
}

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/models"
	"github.com/carverauto/terminal-discovery/pkg/switchmac"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
)

var errTestFixture = errors.New("fixture error")

type published struct {
	subject string
	payload []byte
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(ctx context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.msgs = append(f.msgs, published{subject: subject, payload: payload})

	return &jetstream.PubAck{Stream: "terminal-events", Sequence: uint64(len(f.msgs))}, nil
}

func sampleEvents() []terminal.ChangeEvent {
	info := terminal.TerminalInfo{
		MAC:     switchmac.MAC{0, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:      netip.MustParseAddr("10.0.0.2"),
		Port:    7,
		VLAN:    1,
		IfIndex: 7,
	}

	moved := info
	moved.MAC = switchmac.MAC{0, 0x11, 0x22, 0x33, 0x44, 0x66}

	return []terminal.ChangeEvent{
		{Tag: terminal.TagAdd, TerminalInfo: info},
		{Tag: terminal.TagMod, TerminalInfo: moved},
		{Tag: terminal.TagDel, TerminalInfo: moved},
	}
}

func TestPublishChanges(t *testing.T) {
	js := &fakeJetStream{}
	p := NewEventPublisher(js, "terminal-events", "terminals.changes", logger.NewTestLogger())
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, p.PublishChanges(context.Background(), sampleEvents()))
	require.NoError(t, p.PublishChanges(context.Background(), nil))
	require.Len(t, js.msgs, 1)
	assert.Equal(t, "terminals.changes", js.msgs[0].subject)

	var event struct {
		models.CloudEvent
		Data ChangeBatch `json:"data"`
	}

	require.NoError(t, json.Unmarshal(js.msgs[0].payload, &event))
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, eventTypeChanges, event.Type)
	assert.Equal(t, eventSource, event.Source)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, 1, event.Data.Added)
	assert.Equal(t, 1, event.Data.Modified)
	assert.Equal(t, 1, event.Data.Removed)
	require.Len(t, event.Data.Events, 3)
	assert.Equal(t, "00:11:22:33:44:55", event.Data.Events[0].MAC.String())
}

func TestPublishChangesError(t *testing.T) {
	js := &fakeJetStream{err: errTestFixture}
	p := NewEventPublisher(js, "terminal-events", "terminals.changes", logger.NewTestLogger())

	err := p.PublishChanges(context.Background(), sampleEvents())
	require.ErrorIs(t, err, errTestFixture)

	// the sink swallows the failure
	assert.NotPanics(t, func() { p.Sink(time.Second)(sampleEvents()) })
}

func TestSinkPublishes(t *testing.T) {
	js := &fakeJetStream{}
	p := NewEventPublisher(js, "terminal-events", "terminals.changes", logger.NewTestLogger())

	p.Sink(time.Second)(sampleEvents())
	assert.Len(t, js.msgs, 1)
}

type fakeStream struct {
	jetstream.Stream
	info *jetstream.StreamInfo
}

func (s *fakeStream) CachedInfo() *jetstream.StreamInfo { return s.info }

type fakeStreamManager struct {
	existing *jetstream.StreamConfig
	lookup   error
	created  *jetstream.StreamConfig
	updated  *jetstream.StreamConfig
}

func (f *fakeStreamManager) Stream(_ context.Context, _ string) (jetstream.Stream, error) {
	if f.lookup != nil {
		return nil, f.lookup
	}

	return &fakeStream{info: &jetstream.StreamInfo{Config: *f.existing}}, nil
}

func (f *fakeStreamManager) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.created = &cfg
	return &fakeStream{info: &jetstream.StreamInfo{Config: cfg}}, nil
}

func (f *fakeStreamManager) UpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.updated = &cfg
	return &fakeStream{info: &jetstream.StreamInfo{Config: cfg}}, nil
}

func TestEnsureStream(t *testing.T) {
	log := logger.NewTestLogger()

	t.Run("creates missing stream", func(t *testing.T) {
		sm := &fakeStreamManager{lookup: jetstream.ErrStreamNotFound}
		require.NoError(t, ensureStream(context.Background(), sm, "terminal-events", "terminals.changes", log))
		require.NotNil(t, sm.created)
		assert.Equal(t, []string{"terminals.changes"}, sm.created.Subjects)
	})

	t.Run("adds subject", func(t *testing.T) {
		sm := &fakeStreamManager{existing: &jetstream.StreamConfig{Name: "terminal-events", Subjects: []string{"other.>"}}}
		require.NoError(t, ensureStream(context.Background(), sm, "terminal-events", "terminals.changes", log))
		require.NotNil(t, sm.updated)
		assert.Equal(t, []string{"other.>", "terminals.changes"}, sm.updated.Subjects)
	})

	t.Run("covered subject is left alone", func(t *testing.T) {
		sm := &fakeStreamManager{existing: &jetstream.StreamConfig{Name: "terminal-events", Subjects: []string{"terminals.*"}}}
		require.NoError(t, ensureStream(context.Background(), sm, "terminal-events", "terminals.changes", log))
		assert.Nil(t, sm.updated)
		assert.Nil(t, sm.created)
	})

	t.Run("lookup failure", func(t *testing.T) {
		sm := &fakeStreamManager{lookup: errTestFixture}
		require.ErrorIs(t, ensureStream(context.Background(), sm, "terminal-events", "terminals.changes", log), errTestFixture)
	})
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "terminals.changes",
			want:     []string{"terminals.changes"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"terminals.*"},
			subject:  "terminals.changes",
			want:     []string{"terminals.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"terminals.>"},
			subject:  "terminals.site1.changes",
			want:     []string{"terminals.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"events.syslog.*"},
			subject:  "terminals.changes",
			want:     []string{"events.syslog.*", "terminals.changes"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject))
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "terminals.changes", "terminals.changes", true},
		{"single wildcard", "terminals.*.changes", "terminals.site1.changes", true},
		{"greater wildcard", "terminals.>", "terminals.site1.changes", true},
		{"greater needs a token", "terminals.>", "terminals", false},
		{"no match length", "terminals.*", "terminals.site1.changes", false},
		{"no match tokens", "events.syslog.*", "terminals.changes", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, matchesSubject(tc.pattern, tc.subject))
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, isStreamMissingErr(tc.err))
		})
	}
}

func TestTLSConfig(t *testing.T) {
	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{Mode: models.SecurityModeNone})
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{
		Mode: models.SecurityModeMTLS,
		TLS:  models.TLSConfig{CertFile: "client.pem"},
	})
	require.ErrorIs(t, err, ErrTLSIncomplete)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0o600))

	_, err = TLSConfig(&models.SecurityConfig{
		Mode: models.SecurityModeMTLS,
		TLS: models.TLSConfig{
			CertFile: filepath.Join(dir, "missing.pem"),
			KeyFile:  filepath.Join(dir, "missing-key.pem"),
			CAFile:   caFile,
		},
	})
	require.ErrorIs(t, err, ErrCAParsingFailed)

	_, err = TLSConfig(&models.SecurityConfig{
		Mode: models.SecurityModeMTLS,
		TLS: models.TLSConfig{
			CertFile: filepath.Join(dir, "missing.pem"),
			KeyFile:  filepath.Join(dir, "missing-key.pem"),
			CAFile:   filepath.Join(dir, "absent-ca.pem"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent-ca.pem")
}

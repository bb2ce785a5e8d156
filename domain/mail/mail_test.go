package mail

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorebook/lorebook/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeSender struct {
	sent    []SendOptions
	failFor int // fail this many calls before succeeding
	calls   int
}

func (s *fakeSender) Send(_ context.Context, opts SendOptions) (*SendResult, error) {
	s.calls++
	if s.calls <= s.failFor {
		return &SendResult{Success: false, Error: "connection refused"}, errors.New("connection refused")
	}
	s.sent = append(s.sent, opts)
	return &SendResult{Success: true, MessageID: "msg-1"}, nil
}

func TestRenderer(t *testing.T) {
	r, err := NewRenderer(testLogger())
	require.NoError(t, err)

	t.Run("known subject kinds", func(t *testing.T) {
		for kind := range subjects {
			assert.True(t, r.Has(kind), "missing template for %s", kind)

			rendered, err := r.Render(kind, map[string]interface{}{
				"recipient": "a@lorebook.app",
				"token":     "482913",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, rendered.Subject)
			assert.Contains(t, rendered.HTML, "a@lorebook.app")
			assert.NotEmpty(t, rendered.Text)
		}
	})

	t.Run("token appears in confirmation body", func(t *testing.T) {
		rendered, err := r.Render("account_confirm", map[string]interface{}{
			"recipient": "a@lorebook.app",
			"token":     "482913",
		})
		require.NoError(t, err)
		assert.Contains(t, rendered.HTML, "482913")
		assert.Contains(t, rendered.Text, "482913")
	})

	t.Run("unknown subject kind", func(t *testing.T) {
		_, err := r.Render("marketing_blast", nil)
		assert.Error(t, err)
	})
}

func TestHook_Handle(t *testing.T) {
	renderer, err := NewRenderer(testLogger())
	require.NoError(t, err)

	mailJob := func(payload string) *jobs.Job {
		return &jobs.Job{
			ID:      "job-1",
			Queue:   jobs.QueueMail,
			Kind:    jobs.KindMailSend,
			Payload: []byte(payload),
		}
	}

	t.Run("renders and sends", func(t *testing.T) {
		sender := &fakeSender{}
		hook := NewHook(sender, renderer, testLogger())

		err := hook.Handle(context.Background(), mailJob(
			`{"to":"a@lorebook.app","subjectKind":"password_reset","token":"111222"}`))
		require.NoError(t, err)

		require.Len(t, sender.sent, 1)
		assert.Equal(t, "a@lorebook.app", sender.sent[0].To)
		assert.Contains(t, sender.sent[0].HTML, "111222")
		assert.Equal(t, "Reset your Lorebook password", sender.sent[0].Subject)
	})

	t.Run("transport failure surfaces as error", func(t *testing.T) {
		sender := &fakeSender{failFor: 1000}
		hook := NewHook(sender, renderer, testLogger())

		err := hook.Handle(context.Background(), mailJob(
			`{"to":"a@lorebook.app","subjectKind":"account_confirm","token":"111222"}`))
		assert.Error(t, err)
		assert.Empty(t, sender.sent)
	})

	t.Run("missing recipient fails without sending", func(t *testing.T) {
		sender := &fakeSender{}
		hook := NewHook(sender, renderer, testLogger())

		err := hook.Handle(context.Background(), mailJob(
			`{"subjectKind":"account_confirm","token":"111222"}`))
		assert.Error(t, err)
		assert.Zero(t, sender.calls)
	})

	t.Run("unknown subject kind fails without sending", func(t *testing.T) {
		sender := &fakeSender{}
		hook := NewHook(sender, renderer, testLogger())

		err := hook.Handle(context.Background(), mailJob(
			`{"to":"a@lorebook.app","subjectKind":"nope"}`))
		assert.Error(t, err)
		assert.Zero(t, sender.calls)
	})

	t.Run("malformed payload", func(t *testing.T) {
		sender := &fakeSender{}
		hook := NewHook(sender, renderer, testLogger())

		err := hook.Handle(context.Background(), mailJob(`{broken`))
		assert.Error(t, err)
		assert.Zero(t, sender.calls)
	})
}

// Delivery through the consumer: a send that fails twice and then succeeds
// is retried until the third attempt and never re-sent after that.
func TestHook_EventualDelivery(t *testing.T) {
	renderer, err := NewRenderer(testLogger())
	require.NoError(t, err)

	sender := &fakeSender{failFor: 2}
	hook := NewHook(sender, renderer, testLogger())

	job := &jobs.Job{
		ID:      "job-1",
		Queue:   jobs.QueueMail,
		Kind:    jobs.KindMailSend,
		Payload: []byte(`{"to":"a@lorebook.app","subjectKind":"reply_notification"}`),
	}

	assert.Error(t, hook.Handle(context.Background(), job))
	assert.Error(t, hook.Handle(context.Background(), job))
	require.NoError(t, hook.Handle(context.Background(), job))

	assert.Equal(t, 3, sender.calls)
	require.Len(t, sender.sent, 1)
}

func TestNoopSender(t *testing.T) {
	s := NewNoopSender(testLogger())
	res, err := s.Send(context.Background(), SendOptions{To: "a@lorebook.app", Subject: "x"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

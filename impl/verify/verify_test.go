package verify

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"taskmarket/entity"
	"taskmarket/internal/database"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	codeRegex = regexp.MustCompile(`\d{6}`)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureSender remembers every payload by destination.
type captureSender struct {
	mu       sync.Mutex
	payloads map[string][]string
	err      error
}

func newCaptureSender() *captureSender {
	return &captureSender{payloads: make(map[string][]string)}
}

func (s *captureSender) Send(_ context.Context, destination, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[destination] = append(s.payloads[destination], payload)
	return s.err
}

func (s *captureSender) lastCode(t *testing.T, destination string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := s.payloads[destination]
	require.NotEmpty(t, sent, "nothing sent to %s", destination)
	code := codeRegex.FindString(sent[len(sent)-1])
	require.NotEmpty(t, code)
	return code
}

type fixture struct {
	mem     *database.Memory
	cascade *Cascade
	sender  *captureSender
	now     time.Time
}

func confirmKey(ownerID string, channel entity.Channel) entity.CodeKey {
	return entity.CodeKey{OwnerID: ownerID, Channel: channel, Purpose: entity.PurposeConfirm}
}

func newFixture() *fixture {
	f := &fixture{
		mem:    database.NewMemory(),
		sender: newCaptureSender(),
		now:    testNow,
	}
	f.cascade = NewCascade(f.mem, 2*time.Minute, discardLogger())
	f.cascade.SetClock(func() time.Time { return f.now })
	f.cascade.SetSender(entity.ChannelTelegram, f.sender)
	f.cascade.SetSender(entity.ChannelEmail, f.sender)
	f.cascade.SetSender(entity.ChannelSMS, f.sender)
	return f
}

func TestSelectChannel(t *testing.T) {
	cases := []struct {
		name     string
		contacts entity.Contacts
		want     entity.Channel
	}{
		{"all", entity.Contacts{TelegramId: 42, Email: "a@b.c", Phone: "+100"}, entity.ChannelTelegram},
		{"email and phone", entity.Contacts{Email: "a@b.c", Phone: "+100"}, entity.ChannelEmail},
		{"telegram and phone", entity.Contacts{TelegramId: 42, Phone: "+100"}, entity.ChannelTelegram},
		{"phone only", entity.Contacts{Phone: "+100"}, entity.ChannelSMS},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := SelectChannel(c.contacts)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}

	_, err := SelectChannel(entity.Contacts{})
	assert.ErrorIs(t, err, entity.ErrNoContactMethod)
}

func TestGenerateCode(t *testing.T) {
	code, err := generateCode(bytes.NewReader(make([]byte, 16)))
	require.NoError(t, err)
	assert.Equal(t, "000000", code, "leading zeros are kept")

	for i := 0; i < 50; i++ {
		code, err = generateCode(rand.Reader)
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, code)
	}
}

func TestCascade_IssueAndValidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := &entity.User{ID: "u1", Email: "u1@example.com", Phone: "+100"}

	result, err := f.cascade.Issue(ctx, user, entity.PurposeConfirm)
	require.NoError(t, err)
	assert.Equal(t, entity.ChannelEmail, result.Channel)
	assert.True(t, result.Delivered)
	assert.Equal(t, testNow.Add(2*time.Minute), result.ExpiresAt)

	code := f.sender.lastCode(t, "u1@example.com")

	assert.ErrorIs(t, f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelSMS), code), entity.ErrInvalidOrExpiredCode, "wrong channel")
	assert.ErrorIs(t, f.cascade.Validate(ctx, confirmKey("u2", entity.ChannelEmail), code), entity.ErrInvalidOrExpiredCode, "wrong owner")
	assert.ErrorIs(t, f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelEmail), "12345"), entity.ErrInvalidOrExpiredCode, "wrong length")

	loginKey := entity.CodeKey{OwnerID: "u1", Channel: entity.ChannelEmail, Purpose: entity.PurposeLogin}
	assert.ErrorIs(t, f.cascade.Validate(ctx, loginKey, code), entity.ErrInvalidOrExpiredCode, "wrong purpose")

	require.NoError(t, f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelEmail), code))
	assert.ErrorIs(t, f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelEmail), code), entity.ErrInvalidOrExpiredCode, "single use")
}

func TestCascade_Expiry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := &entity.User{ID: "u1", Phone: "+100"}

	_, err := f.cascade.Issue(ctx, user, entity.PurposeLogin)
	require.NoError(t, err)
	code := f.sender.lastCode(t, "+100")

	key := entity.CodeKey{OwnerID: "u1", Channel: entity.ChannelSMS, Purpose: entity.PurposeLogin}
	f.now = testNow.Add(2 * time.Minute)
	assert.ErrorIs(t, f.cascade.Validate(ctx, key, code), entity.ErrInvalidOrExpiredCode)
}

func TestCascade_FailedDeliveryKeepsCode(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("gateway down")
	ctx := context.Background()
	user := &entity.User{ID: "u1", TelegramId: 42}

	result, err := f.cascade.Issue(ctx, user, entity.PurposeConfirm)
	require.NoError(t, err)
	assert.Equal(t, entity.ChannelTelegram, result.Channel)
	assert.False(t, result.Delivered)

	code := f.sender.lastCode(t, "42")
	assert.NoError(t, f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelTelegram), code))
}

func TestCascade_NoContact(t *testing.T) {
	f := newFixture()
	_, err := f.cascade.Issue(context.Background(), &entity.User{ID: "u1"}, entity.PurposeConfirm)
	assert.ErrorIs(t, err, entity.ErrNoContactMethod)

	_, err = f.cascade.IssueOn(context.Background(), &entity.User{ID: "u1", Email: "x@y.z"}, entity.ChannelSMS, entity.PurposeConfirm, "")
	assert.ErrorIs(t, err, entity.ErrNoContactMethod)
}

func TestCascade_ConcurrentValidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := &entity.User{ID: "u1", Email: "u1@example.com"}

	_, err := f.cascade.Issue(ctx, user, entity.PurposeConfirm)
	require.NoError(t, err)
	code := f.sender.lastCode(t, "u1@example.com")

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.cascade.Validate(ctx, confirmKey("u1", entity.ChannelEmail), code)
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
		}
	}
	assert.Equal(t, 1, success)
}

func TestBypass(t *testing.T) {
	b := NewBypass(discardLogger())
	ctx := context.Background()

	result, err := b.Issue(ctx, &entity.User{ID: "u1"}, entity.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, result.Delivered)

	assert.NoError(t, b.Validate(ctx, confirmKey("u1", entity.ChannelEmail), "anything"))
}

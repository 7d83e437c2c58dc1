package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// fakeTokenStore stands in for the Postgres repo. The mutex plays the role of
// the conditional UPDATE: check and flip are one critical section.
type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]model.VerificationToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]model.VerificationToken)}
}

func (f *fakeTokenStore) Create(_ context.Context, t model.VerificationToken) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	f.tokens[t.Token] = t
	return t.ID, nil
}

func (f *fakeTokenStore) Consume(_ context.Context, token, purpose string) (model.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok || t.Purpose != purpose || t.Consumed || !t.ExpiresAt.After(time.Now()) {
		return model.VerificationToken{}, apperr.ErrInvalidToken
	}
	t.Consumed = true
	f.tokens[token] = t
	return t, nil
}

func (f *fakeTokenStore) CountRecentBySubject(_ context.Context, tenantID uuid.UUID, subject, purpose string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tokens {
		if t.TenantID == tenantID && t.Subject == subject && t.Purpose == purpose && t.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func TestIssueAndConsume(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()
	tenantID := uuid.New()

	token, err := svc.Issue(ctx, PurposePhoneVerification, tenantID, "+861234567890",
		map[string]string{"whitelist_entry_id": uuid.NewString()}, 30*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
	require.NoError(t, err)
	assert.Equal(t, tenantID, got.TenantID)
	assert.Equal(t, "+861234567890", got.Subject)
	assert.NotEmpty(t, got.Payload["whitelist_entry_id"])
}

func TestConsume_exactlyOnce(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	token, err := svc.Issue(ctx, PurposePhoneVerification, uuid.New(), "+861234567890", nil, time.Minute)
	require.NoError(t, err)

	_, err = svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
	require.NoError(t, err)

	// Every subsequent call, identical arguments included, fails.
	for i := 0; i < 3; i++ {
		_, err = svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
		assert.True(t, errors.Is(err, apperr.ErrInvalidToken))
	}
}

func TestConsume_exactlyOnceUnderConcurrency(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	token, err := svc.Issue(ctx, PurposePhoneVerification, uuid.New(), "+861234567890", nil, time.Minute)
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			require.True(t, errors.Is(err, apperr.ErrInvalidToken))
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent consume may succeed")
	assert.Equal(t, callers-1, failures)
}

func TestConsume_wrongPurpose(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	token, err := svc.Issue(ctx, PurposePhoneVerification, uuid.New(), "+861234567890", nil, time.Minute)
	require.NoError(t, err)

	_, err = svc.VerifyAndConsume(ctx, token, "password_reset")
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))

	// The failed attempt must not have consumed it.
	_, err = svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
	assert.NoError(t, err)
}

func TestConsume_expired(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	token, err := svc.Issue(ctx, PurposePhoneVerification, uuid.New(), "+861234567890", nil, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = svc.VerifyAndConsume(ctx, token, PurposePhoneVerification)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))
}

func TestConsume_unknownAndMalformed(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	_, err := svc.VerifyAndConsume(ctx, "no-such-token", PurposePhoneVerification)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))

	_, err = svc.VerifyAndConsume(ctx, "", PurposePhoneVerification)
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))
}

func TestIssue_validatesInput(t *testing.T) {
	svc := NewService(newFakeTokenStore())
	ctx := context.Background()

	_, err := svc.Issue(ctx, "", uuid.New(), "subject", nil, time.Minute)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Issue(ctx, PurposePhoneVerification, uuid.New(), "subject", nil, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/accountcore/internal/cache"
	"github.com/hitoshi/accountcore/internal/cache/cachetest"
	"github.com/hitoshi/accountcore/internal/model"
	"github.com/hitoshi/accountcore/internal/repository"
	"github.com/hitoshi/accountcore/internal/session"
	"github.com/hitoshi/accountcore/internal/token"
)

const testSigningKey = "auth-test-signing-key-at-least-32-bytes"

var errAccountNotFound = errors.New("account not found")

// memAccountRepo はPostgresの一意制約を模したインメモリのAccountRepository。
// 呼び出し元との共有を避けるため、保存・取得のたびにコピーする。
type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account

	addErr    error
	updateErr error
	adds      int
	updates   int
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[string]*model.Account)}
}

func (r *memAccountRepo) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) GetByProviderID(ctx context.Context, provider, providerID string) (*model.Account, error) {
	a, err := r.GetByProviderIDIncludingDeleted(ctx, provider, providerID)
	if err != nil || a == nil || a.IsDeleted() {
		return nil, err
	}
	return a, nil
}

func (r *memAccountRepo) GetByProviderIDIncludingDeleted(_ context.Context, provider, providerID string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderID == providerID {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.IsDeleted() {
		return nil, nil
	}
	return copyAccount(a), nil
}

func (r *memAccountRepo) Add(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	if err := r.checkUnique(account); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	r.accounts[account.ID] = copyAccount(account)
	r.adds++
	return nil
}

func (r *memAccountRepo) Update(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.accounts[account.ID]; !ok {
		return errAccountNotFound
	}
	if err := r.checkUnique(account); err != nil {
		return err
	}
	r.accounts[account.ID] = copyAccount(account)
	r.updates++
	return nil
}

func (r *memAccountRepo) checkUnique(account *model.Account) error {
	for id, a := range r.accounts {
		if id == account.ID {
			continue
		}
		if a.Email == account.Email {
			return model.ErrAccountAlreadyExists
		}
		if account.ProviderID != "" && a.Provider == account.Provider && a.ProviderID == account.ProviderID {
			return model.ErrAccountAlreadyExists
		}
		if a.Username == account.Username {
			return repository.ErrUsernameTaken
		}
	}
	return nil
}

// put はテスト用にアカウントを直接保存する。
func (r *memAccountRepo) put(account *model.Account) *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = model.AccountStatusActive
	}
	r.accounts[account.ID] = copyAccount(account)
	return copyAccount(account)
}

func (r *memAccountRepo) get(id string) *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyAccount(r.accounts[id])
}

func (r *memAccountRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func copyAccount(a *model.Account) *model.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// fakeNotifier は受け取った通知を記録する。
type fakeNotifier struct {
	mu     sync.Mutex
	events []model.NotificationEvent
	reject bool
}

func (n *fakeNotifier) Notify(_ context.Context, event model.NotificationEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reject {
		return false
	}
	n.events = append(n.events, event)
	return true
}

func (n *fakeNotifier) received() []model.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationEvent, len(n.events))
	copy(out, n.events)
	return out
}

// recordingMetrics は記録されたメトリクスを保持する。
type recordingMetrics struct {
	mu          sync.Mutex
	attempts    map[string]int
	validations map[bool]int
	resolutions map[string]int
	dropped     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		attempts:    make(map[string]int),
		validations: make(map[bool]int),
		resolutions: make(map[string]int),
		dropped:     make(map[string]int),
	}
}

func (m *recordingMetrics) RecordAuthAttempt(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[operation+"/"+outcome]++
}

func (m *recordingMetrics) RecordTokenValidation(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[valid]++
}

func (m *recordingMetrics) RecordFederatedResolution(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[kind]++
}

func (m *recordingMetrics) RecordNotificationDropped(notificationType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[notificationType]++
}

func (m *recordingMetrics) RecordSessionsPruned(int)          {}
func (m *recordingMetrics) RecordSweepLatency(time.Duration) {}
func (m *recordingMetrics) RecordHTTPStatus(int)             {}

type testEnv struct {
	service  *Service
	accounts *memAccountRepo
	issuer   *token.Issuer
	sessions *session.Store
	cache    cache.Cache
	mr       *miniredis.Miniredis
	notifier *fakeNotifier
	metrics  *recordingMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	c, mr := cachetest.New(t)
	return newTestEnvWithCache(t, c, mr)
}

func newTestEnvWithCache(t *testing.T, c cache.Cache, mr *miniredis.Miniredis) *testEnv {
	t.Helper()

	issuer, err := token.NewIssuer(token.Config{
		SigningKey: testSigningKey,
		Issuer:     "accountcore",
		Audience:   "account-platform",
		Lifetime:   time.Hour,
	})
	require.NoError(t, err)

	accounts := newMemAccountRepo()
	sessions := session.NewStore(c, nil)
	notifier := &fakeNotifier{}
	m := newRecordingMetrics()

	service, err := NewService(accounts, issuer, sessions, c, notifier,
		ServiceConfig{ResetTokenTTL: time.Hour, BcryptCost: bcrypt.MinCost},
		WithMetrics(m),
	)
	require.NoError(t, err)

	return &testEnv{
		service:  service,
		accounts: accounts,
		issuer:   issuer,
		sessions: sessions,
		cache:    c,
		mr:       mr,
		notifier: notifier,
		metrics:  m,
	}
}

// putLocalAccount はパスワード付きのアカウントを保存する。
func (e *testEnv) putLocalAccount(t *testing.T, email, password string) *model.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return e.accounts.put(&model.Account{
		Email:        email,
		Username:     email[:1] + uuid.NewString()[:8],
		PasswordHash: string(hash),
		Status:       model.AccountStatusActive,
	})
}

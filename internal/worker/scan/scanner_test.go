package scan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/linkbot/internal/database"
	"github.com/hitoshi/linkbot/internal/model"
	"github.com/hitoshi/linkbot/internal/repository"
)

// --- モック定義 ---

// mockLinkRepo はLinkRepositoryのテスト用モック。
type mockLinkRepo struct {
	listAllFunc      func(ctx context.Context) ([]*model.Link, error)
	updateStatusFunc func(ctx context.Context, link *model.Link) error
}

func (m *mockLinkRepo) FindByUserAndURL(ctx context.Context, userID, url string) (*model.Link, error) {
	return nil, nil
}

func (m *mockLinkRepo) Create(ctx context.Context, link *model.Link) error {
	return nil
}

func (m *mockLinkRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Link, error) {
	return nil, nil
}

func (m *mockLinkRepo) ListAll(ctx context.Context) ([]*model.Link, error) {
	if m.listAllFunc != nil {
		return m.listAllFunc(ctx)
	}
	return nil, nil
}

func (m *mockLinkRepo) UpdateStatus(ctx context.Context, link *model.Link) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, link)
	}
	return nil
}

func (m *mockLinkRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

// mapChecker はURLごとの到達可否を返すモック。未登録のURLは到達不能とする。
type mapChecker struct {
	mu    sync.Mutex
	alive map[string]bool
	calls int
}

func (m *mapChecker) Check(ctx context.Context, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.alive[url]
}

func (m *mapChecker) set(url string, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive[url] = alive
}

type notification struct {
	userID string
	url    string
}

type mockNotifier struct {
	mu         sync.Mutex
	notifyFunc func(ctx context.Context, userID, url string) error
	sent       []notification
}

func (m *mockNotifier) NotifyUnreachable(ctx context.Context, userID, url string) error {
	if m.notifyFunc != nil {
		if err := m.notifyFunc(ctx, userID, url); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{userID: userID, url: url})
	return nil
}

type mockMetrics struct {
	mu     sync.Mutex
	cycles []int
}

func (m *mockMetrics) RecordScanCycle(duration time.Duration, linksScanned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, linksScanned)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newSQLiteRepo は一時ファイルのSQLiteを使う実リポジトリを返す。
func newSQLiteRepo(t *testing.T) repository.LinkRepository {
	t.Helper()
	ctx := context.Background()
	db, driver, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.EnsureSQLiteSchema(ctx, db))
	return repository.NewLinkRepo(db, driver)
}

func seed(t *testing.T, repo repository.LinkRepository, userID, url string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), model.NewLink(userID, url, time.Now())))
}

// --- RunOnce ---

func TestRunOnce_NoLinks(t *testing.T) {
	metrics := &mockMetrics{}
	s := NewScanner(&mockLinkRepo{}, &mapChecker{alive: map[string]bool{}}, &mockNotifier{}, metrics, discardLogger(), Config{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, []int{0}, metrics.cycles)
}

func TestRunOnce_ListError(t *testing.T) {
	repo := &mockLinkRepo{listAllFunc: func(context.Context) ([]*model.Link, error) {
		return nil, errors.New("connection refused")
	}}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, &mockNotifier{}, &mockMetrics{}, discardLogger(), Config{})

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_UpdatesEveryLinkAfterCycleStart(t *testing.T) {
	repo := newSQLiteRepo(t)
	seed(t, repo, "U1", "https://up.example")
	seed(t, repo, "U1", "https://down.example")
	seed(t, repo, "U2", "https://up.example")

	checker := &mapChecker{alive: map[string]bool{"https://up.example": true}}
	s := NewScanner(repo, checker, &mockNotifier{}, &mockMetrics{}, discardLogger(), Config{MaxConcurrency: 2})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Alive)
	assert.Equal(t, 1, res.Dead)

	links, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 3)
	for _, l := range links {
		require.NotNil(t, l.CheckedAt, l.URL)
		// SQLiteの時刻は秒未満を丸める場合があるため1秒の余裕を持たせる
		assert.False(t, l.CheckedAt.Before(res.StartedAt.Add(-time.Second)), l.URL)
		assert.Equal(t, l.URL == "https://up.example", l.IsAlive, l.URL)
	}
}

func TestRunOnce_TransitionPolicyNotifiesOnce(t *testing.T) {
	repo := newSQLiteRepo(t)
	seed(t, repo, "U1", "https://flaky.example")

	checker := &mapChecker{alive: map[string]bool{"https://flaky.example": false}}
	notifier := &mockNotifier{}
	s := NewScanner(repo, checker, notifier, &mockMetrics{}, discardLogger(), Config{Policy: model.NotifyPolicyTransition})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1, "到達不能が続いても通知は1回だけ")
	assert.Equal(t, notification{userID: "U1", url: "https://flaky.example"}, notifier.sent[0])

	// 復旧後に再び到達不能になれば再通知する
	checker.set("https://flaky.example", true)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	checker.set("https://flaky.example", false)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, notifier.sent, 2)
}

func TestRunOnce_AlwaysPolicyNotifiesEveryCycle(t *testing.T) {
	repo := newSQLiteRepo(t)
	seed(t, repo, "U1", "https://down.example")
	seed(t, repo, "U1", "https://up.example")

	checker := &mapChecker{alive: map[string]bool{"https://up.example": true}}
	notifier := &mockNotifier{}
	s := NewScanner(repo, checker, notifier, &mockMetrics{}, discardLogger(), Config{Policy: model.NotifyPolicyAlways})

	for i := 0; i < 3; i++ {
		res, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Notified)
	}

	assert.Len(t, notifier.sent, 3)
	for _, n := range notifier.sent {
		assert.Equal(t, "https://down.example", n.url)
	}
}

func TestRunOnce_NotifiesOwnerOnly(t *testing.T) {
	repo := newSQLiteRepo(t)
	seed(t, repo, "U1", "https://down.example")
	seed(t, repo, "U2", "https://down.example")

	notifier := &mockNotifier{}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, notifier, &mockMetrics{}, discardLogger(), Config{})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	users := map[string]bool{}
	for _, n := range notifier.sent {
		users[n.userID] = true
	}
	assert.Equal(t, map[string]bool{"U1": true, "U2": true}, users)
}

func TestRunOnce_UpdateFailureSkipsNotificationAndContinues(t *testing.T) {
	links := []*model.Link{
		{ID: "1", UserID: "U1", URL: "https://a.example", IsAlive: true},
		{ID: "2", UserID: "U1", URL: "https://b.example", IsAlive: true},
	}
	repo := &mockLinkRepo{
		listAllFunc: func(context.Context) ([]*model.Link, error) { return links, nil },
		updateStatusFunc: func(ctx context.Context, l *model.Link) error {
			if l.ID == "1" {
				return errors.New("deadlock detected")
			}
			return nil
		},
	}
	notifier := &mockNotifier{}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, notifier, &mockMetrics{}, discardLogger(), Config{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "https://b.example", notifier.sent[0].url)
}

func TestRunOnce_AllUpdatesFailedReturnsError(t *testing.T) {
	links := []*model.Link{
		{ID: "1", UserID: "U1", URL: "https://a.example", IsAlive: true},
		{ID: "2", UserID: "U2", URL: "https://b.example", IsAlive: true},
	}
	errClosed := errors.New("sql: database is closed")
	repo := &mockLinkRepo{
		listAllFunc:      func(context.Context) ([]*model.Link, error) { return links, nil },
		updateStatusFunc: func(context.Context, *model.Link) error { return errClosed },
	}
	notifier := &mockNotifier{}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, notifier, &mockMetrics{}, discardLogger(), Config{})

	res, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errClosed)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, notifier.sent, "保存できなかったリンクは通知しない")
}

func TestRunOnce_NotifyFailureDoesNotAbortCycle(t *testing.T) {
	links := []*model.Link{
		{ID: "1", UserID: "U1", URL: "https://a.example", IsAlive: true},
		{ID: "2", UserID: "U2", URL: "https://b.example", IsAlive: true},
	}
	var updated atomic.Int32
	repo := &mockLinkRepo{
		listAllFunc: func(context.Context) ([]*model.Link, error) { return links, nil },
		updateStatusFunc: func(context.Context, *model.Link) error {
			updated.Add(1)
			return nil
		},
	}
	notifier := &mockNotifier{notifyFunc: func(ctx context.Context, userID, url string) error {
		if userID == "U1" {
			return errors.New("push rejected")
		}
		return nil
	}}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, notifier, &mockMetrics{}, discardLogger(), Config{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), updated.Load())
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 1, res.Failed)
}

func TestRunOnce_RecoversFromPanic(t *testing.T) {
	links := []*model.Link{
		{ID: "1", UserID: "U1", URL: "https://panic.example", IsAlive: true},
		{ID: "2", UserID: "U1", URL: "https://ok.example", IsAlive: true},
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	repo := &mockLinkRepo{
		listAllFunc: func(context.Context) ([]*model.Link, error) { return links, nil },
		updateStatusFunc: func(ctx context.Context, l *model.Link) error {
			if l.ID == "1" {
				panic("unexpected nil")
			}
			return nil
		},
	}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{"https://ok.example": true}}, &mockNotifier{}, &mockMetrics{}, logger, Config{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, buf.String(), "unexpected nil")
}

func TestRunOnce_RespectsMaxConcurrency(t *testing.T) {
	var links []*model.Link
	for i := 0; i < 10; i++ {
		links = append(links, &model.Link{ID: string(rune('a' + i)), UserID: "U1", URL: "https://example.com/" + string(rune('a'+i)), IsAlive: true})
	}
	repo := &mockLinkRepo{listAllFunc: func(context.Context) ([]*model.Link, error) { return links, nil }}

	var current, peak atomic.Int32
	checker := checkerFunc(func(ctx context.Context, url string) bool {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return true
	})
	s := NewScanner(repo, checker, &mockNotifier{}, &mockMetrics{}, discardLogger(), Config{MaxConcurrency: 3})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunOnce_CancelledContext(t *testing.T) {
	links := []*model.Link{{ID: "1", UserID: "U1", URL: "https://a.example", IsAlive: true}}
	repo := &mockLinkRepo{listAllFunc: func(context.Context) ([]*model.Link, error) { return links, nil }}
	s := NewScanner(repo, &mapChecker{alive: map[string]bool{}}, &mockNotifier{}, &mockMetrics{}, discardLogger(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type checkerFunc func(ctx context.Context, url string) bool

func (f checkerFunc) Check(ctx context.Context, url string) bool { return f(ctx, url) }

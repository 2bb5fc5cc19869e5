package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/hitoshi/domainwatch/internal/metrics"
	"github.com/hitoshi/domainwatch/internal/model"
	"github.com/hitoshi/domainwatch/internal/repository"
)

// staleRepo はソート済みのドメイン一覧をキーセットページネーションで返す
// DomainRepositoryのテスト用実装。
type staleRepo struct {
	domains   []string
	pageCalls int
	limits    []int
}

func newStaleRepo(count int) *staleRepo {
	r := &staleRepo{}
	for i := 0; i < count; i++ {
		r.domains = append(r.domains, fmt.Sprintf("stale-%04d.example", i))
	}
	sort.Strings(r.domains)
	return r
}

func (r *staleRepo) Find(ctx context.Context, domain string) (*model.DomainRecord, error) {
	return nil, nil
}

func (r *staleRepo) UpsertCreate(ctx context.Context, domain string, createdAt time.Time) error {
	return nil
}

func (r *staleRepo) UpsertSetFields(ctx context.Context, domain string, fields repository.DomainFields) error {
	return nil
}

func (r *staleRepo) ListStalePage(ctx context.Context, olderThan time.Time, afterDomain string, limit int) ([]*model.DomainRecord, error) {
	r.pageCalls++
	r.limits = append(r.limits, limit)

	var page []*model.DomainRecord
	for _, d := range r.domains {
		if d <= afterDomain {
			continue
		}
		page = append(page, &model.DomainRecord{Domain: d, Status: model.StatusReady})
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// countingEnqueuer は投入されたドメインを記録するEnqueuerのテスト用実装。
type countingEnqueuer struct {
	seen   map[string]int
	failAt int
	calls  int
	dedup  bool
}

func newCountingEnqueuer() *countingEnqueuer {
	return &countingEnqueuer{seen: make(map[string]int)}
}

func (e *countingEnqueuer) Enqueue(ctx context.Context, domain string) (bool, error) {
	e.calls++
	if e.failAt > 0 && e.calls >= e.failAt {
		return false, errors.New("queue unavailable")
	}
	e.seen[domain]++
	if e.dedup && e.seen[domain] > 1 {
		return false, nil
	}
	return true, nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// 250件の対象が100/100/50の3バッチで全件ちょうど1回ずつ投入されることを検証
func TestRunOnce_PaginatesInBatches(t *testing.T) {
	repo := newStaleRepo(250)
	q := newCountingEnqueuer()

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	enqueued, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if enqueued != 250 {
		t.Errorf("enqueued = %d, want 250", enqueued)
	}
	if repo.pageCalls != 3 {
		t.Errorf("page calls = %d, want 3", repo.pageCalls)
	}
	for i, limit := range repo.limits {
		if limit != 100 {
			t.Errorf("page %d limit = %d, want 100", i, limit)
		}
	}

	// 全ドメインがちょうど1回ずつ投入される
	if len(q.seen) != 250 {
		t.Errorf("distinct domains enqueued = %d, want 250", len(q.seen))
	}
	for d, n := range q.seen {
		if n != 1 {
			t.Errorf("domain %s enqueued %d times, want 1", d, n)
		}
	}
}

// 対象件数がバッチサイズの倍数ちょうどの場合の境界を検証
func TestRunOnce_ExactMultipleOfBatchSize(t *testing.T) {
	repo := newStaleRepo(200)
	q := newCountingEnqueuer()

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	enqueued, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if enqueued != 200 {
		t.Errorf("enqueued = %d, want 200", enqueued)
	}
	// 200件なら3ページ目は空で終了する
	if repo.pageCalls != 3 {
		t.Errorf("page calls = %d, want 3", repo.pageCalls)
	}
}

// 対象がない場合に何も投入せず正常終了することを検証
func TestRunOnce_NoStaleRecords(t *testing.T) {
	repo := newStaleRepo(0)
	q := newCountingEnqueuer()

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	enqueued, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if enqueued != 0 {
		t.Errorf("enqueued = %d, want 0", enqueued)
	}
	if q.calls != 0 {
		t.Errorf("enqueue calls = %d, want 0", q.calls)
	}
}

// キューへの畳み込み（false戻り値）が件数に含まれないことを検証
func TestRunOnce_CollapsedJobsNotCounted(t *testing.T) {
	repo := newStaleRepo(10)
	// 同一走査内で重複は発生しないため、全てfalseを返すキューで検証する
	q := &countingEnqueuer{seen: make(map[string]int), dedup: true}
	for _, d := range repo.domains {
		q.seen[d] = 1 // 既に投入済みの状態を再現
	}

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	enqueued, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if enqueued != 0 {
		t.Errorf("enqueued = %d, want 0 when all jobs collapse", enqueued)
	}
}

// 投入エラーで走査が即座に中断されることを検証
func TestRunOnce_FailsFastOnEnqueueError(t *testing.T) {
	repo := newStaleRepo(250)
	q := newCountingEnqueuer()
	q.failAt = 5

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	_, err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if q.calls != 5 {
		t.Errorf("enqueue calls = %d, want 5 (fail fast)", q.calls)
	}
	if repo.pageCalls != 1 {
		t.Errorf("page calls = %d, want 1 (no further pagination)", repo.pageCalls)
	}
}

// 不正なcron式でStartがエラーを返すことを検証
func TestStart_InvalidScheduleFails(t *testing.T) {
	repo := newStaleRepo(0)
	q := newCountingEnqueuer()

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, "not a cron expression"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

// Startが起動直後に1回実行し、キャンセルで停止することを検証
func TestStart_RunsOnceAtStartupAndStopsOnCancel(t *testing.T) {
	repo := newStaleRepo(10)
	q := newCountingEnqueuer()

	s := NewSweeper(repo, q, metrics.Noop{}, newTestLogger(), 100, 30*24*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, "0 0 * * *")
	}()

	// 起動直後の実行が完了するまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && q.calls < 10 {
		time.Sleep(5 * time.Millisecond)
	}
	if q.calls != 10 {
		t.Errorf("enqueue calls at startup = %d, want 10", q.calls)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}

package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Archive-Agents/internal/ledger"
)

func acceptedJob(jobID uint64) ActiveJob {
	return ActiveJob{
		JobID:   jobID,
		BidID:   jobID * 10,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  2_000_000,
		Amount:  1_600_000,
	}
}

func TestTrackEnforcesCapacity(t *testing.T) {
	manager := NewManager(2)
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(1)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Track(acceptedJob(2)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Track(acceptedJob(3)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("超出容量应返回 ErrCapacityExceeded, 实际 %v", err)
	}
	if manager.Count() != 2 {
		t.Fatalf("容量占用应为 2, 实际 %d", manager.Count())
	}
}

func TestTrackDuplicateIsConflict(t *testing.T) {
	manager := NewManager(5)
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(7)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Track(acceptedJob(7)); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("重复登记应返回 ErrJobConflict, 实际 %v", err)
	}
	if manager.Count() != 1 {
		t.Fatalf("重复登记不应新增条目, 实际 %d", manager.Count())
	}
}

func TestRunTransitionsToCompleted(t *testing.T) {
	history := NewMemoryStore()
	manager := NewManager(5, WithHistory(history), WithGracePeriod(50*time.Millisecond))
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(1)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}

	done := make(chan struct{})
	err := manager.Run(context.Background(), 1, func(_ context.Context, got ActiveJob) error {
		if got.Status != StatusInProgress {
			t.Errorf("执行器应看到 in_progress, 实际 %s", got.Status)
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("启动执行失败: %v", err)
	}
	<-done

	waitForStatus(t, manager, 1, StatusCompleted)

	entries, err := history.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("读取历史失败: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != StatusCompleted {
		t.Fatalf("历史记录不符: %+v", entries)
	}
}

func TestRunMarksFailureOnError(t *testing.T) {
	manager := NewManager(5, WithGracePeriod(time.Minute))
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(2)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Run(context.Background(), 2, func(context.Context, ActiveJob) error {
		return errors.New("scrape blocked")
	}); err != nil {
		t.Fatalf("启动执行失败: %v", err)
	}

	waitForStatus(t, manager, 2, StatusFailed)
	got, _ := manager.Get(2)
	if got.LastError != "scrape blocked" {
		t.Fatalf("失败原因未记录: %+v", got)
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	manager := NewManager(5, WithGracePeriod(time.Minute))
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(3)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Run(context.Background(), 3, func(context.Context, ActiveJob) error {
		panic("executor exploded")
	}); err != nil {
		t.Fatalf("启动执行失败: %v", err)
	}

	waitForStatus(t, manager, 3, StatusFailed)
}

func TestTerminalJobPurgedAfterGrace(t *testing.T) {
	manager := NewManager(5, WithGracePeriod(30*time.Millisecond))
	defer manager.Shutdown(context.Background())

	if err := manager.Track(acceptedJob(4)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	if err := manager.Run(context.Background(), 4, func(context.Context, ActiveJob) error {
		return nil
	}); err != nil {
		t.Fatalf("启动执行失败: %v", err)
	}

	waitForStatus(t, manager, 4, StatusCompleted)

	deadline := time.After(2 * time.Second)
	for manager.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("终态任务应在宽限期后被清除")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunRequiresAcceptedState(t *testing.T) {
	manager := NewManager(5)
	defer manager.Shutdown(context.Background())

	if err := manager.Run(context.Background(), 99, func(context.Context, ActiveJob) error {
		return nil
	}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("未登记任务应返回 ErrJobNotFound, 实际 %v", err)
	}
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	manager := NewManager(5, WithGracePeriod(time.Hour))

	if err := manager.Track(acceptedJob(5)); err != nil {
		t.Fatalf("登记任务失败: %v", err)
	}
	release := make(chan struct{})
	if err := manager.Run(context.Background(), 5, func(context.Context, ActiveJob) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("启动执行失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := manager.Shutdown(ctx); err == nil {
		t.Fatal("任务未结束时限时关闭应返回超时错误")
	}

	close(release)
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("任务结束后关闭失败: %v", err)
	}
}

func TestCapacityBoundHoldsUnderConcurrentTrack(t *testing.T) {
	const maxJobs = 3
	const attempts = 24

	manager := NewManager(maxJobs, WithGracePeriod(time.Hour))
	release := make(chan struct{})

	var wg sync.WaitGroup
	var tracked atomic.Int64
	var rejected atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(jobID uint64) {
			defer wg.Done()
			err := manager.Track(acceptedJob(jobID))
			if err != nil {
				if !errors.Is(err, ErrCapacityExceeded) {
					t.Errorf("并发登记失败, 期望 ErrCapacityExceeded, 实际 %v", err)
				}
				rejected.Add(1)
				return
			}
			tracked.Add(1)
			if n := manager.Count(); n > maxJobs {
				t.Errorf("并发占用数越界: %d > %d", n, maxJobs)
			}
			if err := manager.Run(context.Background(), jobID, func(context.Context, ActiveJob) error {
				<-release
				return nil
			}); err != nil {
				t.Errorf("启动执行失败: %v", err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	if got := tracked.Load(); got != maxJobs {
		t.Fatalf("成功登记数应为 %d, 实际 %d", maxJobs, got)
	}
	if got := rejected.Load(); got != attempts-maxJobs {
		t.Fatalf("拒绝数应为 %d, 实际 %d", attempts-maxJobs, got)
	}
	if got := manager.Count(); got != maxJobs {
		t.Fatalf("占用数应为 %d, 实际 %d", maxJobs, got)
	}

	close(release)
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("关闭管理器失败: %v", err)
	}
}

func waitForStatus(t *testing.T, manager *Manager, jobID uint64, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got, ok := manager.Get(jobID); ok && got.Status == want {
			return
		}
		select {
		case <-deadline:
			got, _ := manager.Get(jobID)
			t.Fatalf("等待状态 %s 超时, 当前 %+v", want, got)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

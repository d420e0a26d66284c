package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/logger"
)

// 自动推进时单次操作的超时
const advanceTimeout = 30 * time.Second

// scheduleAdvance 登记持久化计划，并在本进程挂一个本地定时器
func (e *Engine) scheduleAdvance(ctx context.Context, gameID string, at time.Time) {
	if err := e.scheduler.ScheduleAdvance(ctx, gameID, at); err != nil {
		log.WithField("game", gameID).Warnf("⏰ 登记自动推进失败: %v", err)
	}

	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if e.stopped {
		return
	}
	if t, ok := e.timers[gameID]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(max(at.Sub(e.now()), 0), func() {
		e.timersMu.Lock()
		if e.timers[gameID] == t {
			delete(e.timers, gameID)
		}
		e.timersMu.Unlock()
		e.fireAdvance(gameID)
	})
	e.timers[gameID] = t
}

// cancelAdvance 停止本地定时器并删除持久化计划
func (e *Engine) cancelAdvance(ctx context.Context, gameID string) {
	e.stopTimer(gameID)
	if err := e.scheduler.CancelAdvance(ctx, gameID); err != nil {
		log.WithField("game", gameID).Warnf("⏰ 取消自动推进失败: %v", err)
	}
}

func (e *Engine) stopTimer(gameID string) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[gameID]; ok {
		t.Stop()
		delete(e.timers, gameID)
	}
}

// fireAdvance 认领计划后推进；认领失败说明已被其他进程或手动推进处理
func (e *Engine) fireAdvance(gameID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()

	claimed, err := e.scheduler.ClaimAdvance(ctx, gameID)
	if err != nil {
		log.WithField("game", gameID).Warnf("⏰ 认领自动推进失败: %v", err)
		return
	}
	if !claimed {
		return
	}
	if _, err := e.autoAdvance(ctx, gameID); err != nil {
		log.WithField("game", gameID).Warnf("⏰ 自动推进失败: %v", err)
	}
}

// Run 定期扫描超期未执行的自动推进（例如登记它的进程已退出），阻塞直到 ctx 结束
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	log.Printf("🧹 自动推进扫描已启动，间隔 %v", e.opts.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep 处理一次超期计划，返回推进的游戏数
func (e *Engine) Sweep(ctx context.Context) int {
	due, err := e.scheduler.DueAdvances(ctx, e.now().Add(-e.opts.SweepGrace))
	if err != nil {
		log.Warnf("🧹 读取到期的自动推进失败: %v", err)
		return 0
	}

	advanced := 0
	for _, gameID := range due {
		claimed, err := e.scheduler.ClaimAdvance(ctx, gameID)
		if err != nil || !claimed {
			continue
		}
		e.stopTimer(gameID)
		if _, err := e.autoAdvance(ctx, gameID); err != nil {
			log.WithField("game", gameID).Warnf("🧹 接管自动推进失败: %v", err)
			continue
		}
		log.WithField("game", gameID).Infof("🧹 已接管超期的自动推进")
		advanced++
	}
	return advanced
}

// Stop 停止本进程的全部定时器，持久化计划保留给其他进程接管
func (e *Engine) Stop() {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// pendingTimers 本地定时器数量
func (e *Engine) pendingTimers() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.timers)
}

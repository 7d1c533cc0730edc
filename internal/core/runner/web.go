/**
 * Web 扫描策略
 * @author: sun977
 * @date: 2026.10.14
 * @description: 通过 ZAP 守护进程执行爬虫 + 主动扫描，轮询进度，最终一次性读取告警
 */
package runner

import (
	"context"
	"fmt"
	"time"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/parser"
	"neoaudit/internal/pkg/tool_adapter/zap"
	"neoaudit/internal/pkg/utils"
)

const (
	webSourceZap = "web_scan:zap"

	defaultPollInterval   = 2 * time.Second
	defaultWebMaxDuration = time.Hour
	defaultMaxPollErrors  = 3
)

// phaseResult 单个阶段的结束方式
type phaseResult int

const (
	phaseDone        phaseResult = iota // 进度到达 100
	phaseSkipped                        // 启动失败或轮询连续失败，继续下一阶段
	phaseUnreachable                    // 守护进程不可达
	phaseTimeout                        // 墙钟超时
	phaseStopped                        // 收到停止信号
	phaseCancelled                      // ctx 被取消
)

// webPhase 一个远端长时操作（爬虫或主动扫描）
type webPhase struct {
	name   string
	start  func(ctx context.Context, target string) (string, error)
	status func(ctx context.Context, id string) (int, error)
	stop   func(ctx context.Context, id string) error
	lo, hi int // 该阶段在总进度中的区间
}

// scale 阶段内进度映射为总进度
func (p *webPhase) scale(progress int) int {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return p.lo + progress*(p.hi-p.lo)/100
}

// WebRunner web_scan 策略
type WebRunner struct {
	client         zap.Client
	pollInterval   time.Duration
	maxDuration    time.Duration
	requestTimeout time.Duration
	maxPollErrors  int
}

// NewWebRunner 创建 Web 扫描策略
func NewWebRunner(client zap.Client, cfg *config.WebScanConfig, pollInterval time.Duration) *WebRunner {
	r := &WebRunner{
		client:        client,
		pollInterval:  pollInterval,
		maxDuration:   defaultWebMaxDuration,
		maxPollErrors: defaultMaxPollErrors,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if cfg != nil {
		if cfg.MaxDuration > 0 {
			r.maxDuration = cfg.MaxDuration
		}
		if cfg.MaxPollErrors > 0 {
			r.maxPollErrors = cfg.MaxPollErrors
		}
		r.requestTimeout = cfg.RequestTimeout
	}
	return r
}

// Name 返回扫描类型
func (r *WebRunner) Name() scan.ScanType {
	return scan.ScanTypeWeb
}

// phases 根据任务配置生成阶段列表
// 两个阶段都启用时爬虫占 0-30，主动扫描占 30-100
func (r *WebRunner) phases(cfg map[string]interface{}) []*webPhase {
	spider := utils.MapBool(cfg, "spider", true)
	active := utils.MapBool(cfg, "active_scan", true)

	var phases []*webPhase
	if spider {
		hi := 100
		if active {
			hi = 30
		}
		phases = append(phases, &webPhase{
			name:   "spider",
			start:  r.client.StartSpider,
			status: r.client.SpiderStatus,
			stop:   r.client.StopSpider,
			lo:     0,
			hi:     hi,
		})
	}
	if active {
		lo := 0
		if spider {
			lo = 30
		}
		phases = append(phases, &webPhase{
			name:   "ascan",
			start:  r.client.StartActiveScan,
			status: r.client.ActiveScanStatus,
			stop:   r.client.StopActiveScan,
			lo:     lo,
			hi:     100,
		})
	}
	return phases
}

// Run 执行 Web 扫描
func (r *WebRunner) Run(ctx context.Context, exec *Execution) (*Result, error) {
	res := newResult()
	maxDuration := utils.MapDuration(exec.Config, "max_duration", r.maxDuration)
	deadline := time.Now().Add(maxDuration)

	for _, ph := range r.phases(exec.Config) {
		if exec.shouldStop() {
			res.Reason = scan.FinishReasonStopped
			return res, nil
		}
		if time.Now().After(deadline) {
			res.Reason = scan.FinishReasonTimeout
			break
		}

		switch r.runPhase(ctx, exec, ph, deadline, res) {
		case phaseStopped:
			res.Reason = scan.FinishReasonStopped
			return res, nil
		case phaseCancelled:
			return res, ctx.Err()
		case phaseUnreachable:
			// 守护进程不可用不算执行失败，零发现结束
			return res, nil
		case phaseTimeout:
			res.Reason = scan.FinishReasonTimeout
		}
		if res.Reason == scan.FinishReasonTimeout {
			break
		}
	}

	var body []byte
	out := tool_adapter.Call(ctx, "zap.alerts", r.requestTimeout, func(c context.Context) error {
		var err error
		body, err = r.client.Alerts(c, utils.NormalizeTargetURL(exec.Target))
		return err
	})
	if !out.OK() {
		res.degrade(fmt.Sprintf("read alerts failed: %s", out.Message()))
		return res, nil
	}
	res.Findings = parser.NormalizeByName(webSourceZap, parser.ToolZap, body)
	return res, nil
}

// runPhase 启动并轮询一个阶段
// 每轮依次检查：停止信号 -> 墙钟截止 -> 查询进度 -> 等待
func (r *WebRunner) runPhase(ctx context.Context, exec *Execution, ph *webPhase, deadline time.Time, res *Result) phaseResult {
	var scanID string
	out := tool_adapter.Call(ctx, "zap."+ph.name, r.requestTimeout, func(c context.Context) error {
		var err error
		scanID, err = ph.start(c, utils.NormalizeTargetURL(exec.Target))
		return err
	})
	if !out.OK() {
		if out.Kind == tool_adapter.KindNotFound {
			res.degrade(fmt.Sprintf("zap daemon unreachable: %s", out.Message()))
			return phaseUnreachable
		}
		res.degrade(fmt.Sprintf("%s start failed: %s", ph.name, out.Message()))
		return phaseSkipped
	}

	pollErrors := 0
	for {
		if exec.shouldStop() {
			r.stopRemote(ctx, ph, scanID)
			return phaseStopped
		}
		if time.Now().After(deadline) {
			r.stopRemote(ctx, ph, scanID)
			logger.WithFields(map[string]interface{}{
				"task_id": exec.TaskID,
				"phase":   ph.name,
				"scan_id": scanID,
			}).Warn("web scan deadline exceeded, collecting partial results")
			return phaseTimeout
		}

		var progress int
		out := tool_adapter.Call(ctx, "zap."+ph.name+".status", r.requestTimeout, func(c context.Context) error {
			var err error
			progress, err = ph.status(c, scanID)
			return err
		})
		if out.OK() {
			pollErrors = 0
			exec.report(ph.scale(progress))
			if progress >= 100 {
				return phaseDone
			}
		} else {
			pollErrors++
			if pollErrors >= r.maxPollErrors {
				r.stopRemote(ctx, ph, scanID)
				res.degrade(fmt.Sprintf("%s status failed %d times: %s", ph.name, pollErrors, out.Message()))
				return phaseSkipped
			}
		}

		if !sleepCtx(ctx, r.pollInterval) {
			if exec.shouldStop() {
				r.stopRemote(ctx, ph, scanID)
				return phaseStopped
			}
			return phaseCancelled
		}
	}
}

// stopRemote 通知守护进程停止，调用方 ctx 可能已被取消
func (r *WebRunner) stopRemote(ctx context.Context, ph *webPhase, scanID string) {
	tool_adapter.Call(context.WithoutCancel(ctx), "zap."+ph.name+".stop", r.requestTimeout, func(c context.Context) error {
		return ph.stop(c, scanID)
	})
}

// sleepCtx 等待 d，ctx 取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package offline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Directive 是生命周期事件完成后发出的指令。
type Directive string

const (
	DirectiveNone Directive = ""
	// DirectiveSkipWaiting asks the host to activate the new generation immediately.
	DirectiveSkipWaiting Directive = "skip-waiting"
	// DirectiveClaimClients asks the host to route open clients through this worker.
	DirectiveClaimClients Directive = "claim-clients"
)

// Result 描述 OnInstall / OnActivate 的结果。
type Result struct {
	Directive Directive      `json:"directive"`
	Preload   *PreloadReport `json:"preload,omitempty"`
	Deleted   []string       `json:"deleted,omitempty"`
}

// OnInstall 打开（必要时创建）当前 generation 并执行预加载。
// 本地资源失败时整个安装失败，worker 进入 redundant 状态。
func (w *Worker) OnInstall(ctx context.Context) (Result, error) {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.setState(StateInstalling)
	fields := logrus.Fields{"action": "install", "generation": w.generation}

	handle, err := w.store.Open(ctx, w.generation)
	if err != nil {
		w.setState(StateRedundant)
		return Result{}, fmt.Errorf("open generation %s: %w", w.generation, err)
	}

	report, err := w.preload(ctx, handle)
	if err != nil {
		w.setState(StateRedundant)
		w.logger.WithError(err).WithFields(fields).Warn("install_failed")
		return Result{}, err
	}

	w.setHandle(handle)
	w.setState(StateInstalled)
	w.logger.WithFields(fields).WithFields(logrus.Fields{
		"local":   report.Local,
		"stored":  report.Stored,
		"skipped": len(report.Skipped),
	}).Info("install_complete")
	return Result{Directive: DirectiveSkipWaiting, Preload: &report}, nil
}

// OnActivate 删除除当前 generation 以外的全部 generation。重复调用是幂等的。
func (w *Worker) OnActivate(ctx context.Context) (Result, error) {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	prev := w.State()
	w.setState(StateActivating)
	fields := logrus.Fields{"action": "activate", "generation": w.generation}

	names, err := w.store.Generations(ctx)
	if err != nil {
		w.setState(prev)
		return Result{}, fmt.Errorf("list generations: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == w.generation {
			continue
		}
		existed, err := w.store.Delete(ctx, name)
		if err != nil {
			w.setState(prev)
			return Result{}, fmt.Errorf("delete generation %s: %w", name, err)
		}
		if existed {
			deleted = append(deleted, name)
			w.logger.WithFields(fields).WithField("deleted", name).Info("generation_deleted")
		}
	}

	w.setState(StateActivated)
	w.logger.WithFields(fields).WithField("deleted_count", len(deleted)).Info("activate_complete")
	return Result{Directive: DirectiveClaimClients, Deleted: deleted}, nil
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/gorex/extract"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

var ErrModuleClosed = errors.New("module closed")

// Limits are the per-call budgets applied to every execution context of a module.
type Limits struct {
	MaxMemoryPages uint32
	FuelBudget     int64
	EpochTimeout   time.Duration
}

// Module is a compiled, validated guest. It is immutable and shared by every
// Instance created from it; the compiled code is released once the module is
// closed and the last instance referencing it is gone.
type Module struct {
	name     string
	exec     *Executor
	compiled wazero.CompiledModule
	limits   Limits

	refs      atomic.Int64
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (m *Module) Name() string { return m.name }
func (m *Module) Limits() Limits { return m.limits }

// validate checks the guest against the calling convention: a WASI command
// with an exported memory that fits the budget and no imports beyond WASI
// and the gorex host module.
func (m *Module) validate() error {
	start, ok := m.compiled.ExportedFunctions()["_start"]
	if !ok {
		return errors.New("missing _start export")
	}
	if len(start.ParamTypes()) != 0 || len(start.ResultTypes()) != 0 {
		return errors.New("_start must take no params and return nothing")
	}

	if len(m.compiled.ImportedMemories()) > 0 {
		return errors.New("imported memories are not supported")
	}
	mem, ok := m.compiled.ExportedMemories()["memory"]
	if !ok {
		return errors.New("missing memory export")
	}
	if mem.Min() > m.limits.MaxMemoryPages {
		return fmt.Errorf("initial memory of %d pages exceeds limit of %d", mem.Min(), m.limits.MaxMemoryPages)
	}

	for _, fn := range m.compiled.ImportedFunctions() {
		module, name, _ := fn.Import()
		switch module {
		case wasi_snapshot_preview1.ModuleName, hostModuleName:
		default:
			return fmt.Errorf("unsupported import %s.%s", module, name)
		}
	}
	return nil
}

// NewInstance prepares a reusable instance bound to this module.
func (m *Module) NewInstance(ctx context.Context) (*Instance, error) {
	if err := m.retain(); err != nil {
		return nil, err
	}

	inst := &Instance{
		id:     uuid.NewString(),
		module: m,
		base: wazero.NewModuleConfig().
			WithName("").
			WithStartFunctions().
			WithSysWalltime().
			WithSysNanotime(),
	}

	if m.exec.cfg.warmupProbe {
		if err := inst.Check(ctx); err != nil {
			inst.Close(ctx)
			return nil, &extract.Error{
				Kind:       extract.KindInstantiationFailure,
				Detail:     "warm-up probe",
				InstanceID: inst.id,
				Cause:      err,
			}
		}
	}
	return inst, nil
}

func (m *Module) retain() error {
	if m.closing.Load() {
		return ErrModuleClosed
	}
	m.refs.Add(1)
	if m.closing.Load() {
		m.release()
		return ErrModuleClosed
	}
	return nil
}

func (m *Module) release() {
	if m.refs.Add(-1) == 0 && m.closing.Load() {
		m.free()
	}
}

func (m *Module) isClosed() bool { return m.closing.Load() }

// Close marks the module closed. Compiled code is freed immediately if no
// instance holds a reference, otherwise when the last one is closed.
func (m *Module) Close(ctx context.Context) error {
	m.closing.Store(true)
	if m.refs.Load() == 0 {
		m.free()
	}
	return m.closeErr
}

func (m *Module) free() {
	m.closeOnce.Do(func() {
		m.closeErr = m.compiled.Close(context.Background())
	})
}

package irq

import (
	"slices"
	"testing"
)

func (env *testEnv) enableAll(t *testing.T, vectors ...Vector) {
	t.Helper()
	for _, v := range vectors {
		if err := env.ctrl.Enable(v); err != nil {
			t.Fatalf("Enable(%d): %v", v, err)
		}
	}
}

func (env *testEnv) hardwareEnable() Fields {
	var f Fields
	for module := range f {
		f[module] = env.bus.reg(module, RegisterEnable)
	}
	return f
}

func (env *testEnv) setPending(v Vector) {
	module, bit := split(v)
	env.bus.setReg(int(module), RegisterStatus, env.bus.reg(int(module), RegisterStatus)|1<<bit)
	if module != 0 {
		// The secondary output is cascaded into the MIC, where the status
		// mask hides it.
		env.bus.setReg(0, RegisterStatus, env.bus.reg(0, RegisterStatus)|1<<(module-1))
	}
}

func (env *testEnv) clearPending(v Vector) {
	module, bit := split(v)
	env.bus.setReg(int(module), RegisterStatus, env.bus.reg(int(module), RegisterStatus)&^(1<<bit))
}

func TestDispatchSpurious(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 14)

	// Only the cascade bits are set, and nothing is pending on the SICs.
	env.bus.setReg(0, RegisterStatus, 0xc0000003)
	before := env.hardwareEnable()

	env.cpu.trap(t)

	if len(env.serviced) != 0 {
		t.Fatalf("serviced %v on a spurious trap", env.serviced)
	}
	if env.hardwareEnable() != before {
		t.Fatalf("spurious trap changed enable registers")
	}
	if stats := env.ctrl.Stats(); stats.Spurious != 1 || stats.Dispatched != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDispatchResolvesLowestBitFirst(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 5, 9, 33)

	env.setPending(9)
	env.setPending(5)
	env.setPending(33)
	env.handler = env.clearPending

	env.cpu.trap(t)
	env.cpu.trap(t)
	env.cpu.trap(t)

	if want := []Vector{5, 9, 33}; !slices.Equal(env.serviced, want) {
		t.Fatalf("serviced %v, want %v", env.serviced, want)
	}
}

func TestDispatchSecondaryOrder(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 70, 33)

	env.setPending(70)
	env.setPending(33)
	env.handler = env.clearPending

	env.cpu.trap(t)
	env.cpu.trap(t)

	if want := []Vector{33, 70}; !slices.Equal(env.serviced, want) {
		t.Fatalf("serviced %v, want %v", env.serviced, want)
	}
}

func TestDispatchIgnoresFIQSources(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 5, 8)
	env.ctrl.SetInterruptType(5, TypeFIQ)

	env.setPending(5)
	env.cpu.trap(t)
	if len(env.serviced) != 0 {
		t.Fatalf("serviced FIQ routed source: %v", env.serviced)
	}

	env.setPending(8)
	env.cpu.trap(t)
	if !slices.Equal(env.serviced, []Vector{8}) {
		t.Fatalf("serviced %v, want [8]", env.serviced)
	}
}

func TestDispatchMasksLowerPriorities(t *testing.T) {
	env := newTestEnv(t)

	priorities := map[Vector]uint{
		3: 0, 4: 1, 5: 2, 6: 2, 7: 3, 8: 15,
		33: 1, 34: 2, 36: 5,
		64: 0, 65: 2, 95: 9,
	}
	for v, p := range priorities {
		env.ctrl.SetPriority(v, p)
		env.enableAll(t, v)
	}

	for serviced, p := range priorities {
		var during Fields
		env.handler = func(v Vector) {
			during = env.hardwareEnable()
			if env.cpu.irqDisabled {
				t.Errorf("vector %d: handler ran with IRQs disabled", v)
			}
		}

		env.setPending(serviced)
		env.cpu.trap(t)
		env.clearPending(serviced)
		env.bus.setReg(0, RegisterStatus, 0)

		for v, other := range priorities {
			want := other < p
			if got := during.Test(v); got != want {
				t.Errorf("servicing %d (priority %d): vector %d (priority %d) enabled=%v, want %v",
					serviced, p, v, other, got, want)
			}
		}
		if during[0]&DefaultCascadeEnable != DefaultCascadeEnable {
			t.Errorf("servicing %d masked the cascade inputs: 0x%08x", serviced, during[0])
		}
		if got := env.hardwareEnable(); got != env.ctrl.Enabled() {
			t.Fatalf("after %d: enable registers %#v, shadow %#v", serviced, got, env.ctrl.Enabled())
		}
	}
}

func TestDispatchRestoresShadowAfterDisable(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 14, 20, 45)
	env.ctrl.SetPriority(14, 2)

	env.handler = func(v Vector) {
		if err := env.ctrl.Disable(45); err != nil {
			t.Errorf("Disable: %v", err)
		}
		if env.bus.reg(1, RegisterEnable)&(1<<13) != 0 {
			t.Errorf("Disable did not reach hardware under the transient mask")
		}
	}

	env.setPending(14)
	env.cpu.trap(t)

	if got := env.hardwareEnable(); got != env.ctrl.Enabled() {
		t.Fatalf("enable registers %#v, shadow %#v", got, env.ctrl.Enabled())
	}
	if enabled, _ := env.ctrl.IsEnabled(45); enabled {
		t.Fatalf("vector 45 still enabled")
	}
}

func TestDispatchKeepsEnableFromHandler(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 14)

	env.handler = func(v Vector) {
		if err := env.ctrl.Enable(70); err != nil {
			t.Errorf("Enable: %v", err)
		}
	}

	env.setPending(14)
	env.cpu.trap(t)

	if got := env.hardwareEnable(); got != env.ctrl.Enabled() {
		t.Fatalf("enable registers %#v, shadow %#v", got, env.ctrl.Enabled())
	}
	if env.bus.reg(2, RegisterEnable)&(1<<6) == 0 {
		t.Fatalf("vector 70 lost when the mask was lifted")
	}
}

func TestDispatchNested(t *testing.T) {
	env := newTestEnv(t)
	const (
		a = Vector(14) // priority 1
		b = Vector(20) // priority 3
	)
	env.ctrl.SetPriority(a, 1)
	env.ctrl.SetPriority(b, 3)
	env.enableAll(t, a, b, 45)

	var outerMask, afterNested Fields
	env.handler = func(v Vector) {
		env.clearPending(v)
		if v != b {
			return
		}
		outerMask = env.hardwareEnable()
		if !outerMask.Test(a) {
			t.Errorf("higher priority vector masked while servicing lower priority")
		}
		// a fires while b is serviced; the processor traps as soon as
		// the handler window admits IRQs.
		env.setPending(a)
		env.cpu.trap(t)
		afterNested = env.hardwareEnable()
	}

	env.setPending(b)
	env.cpu.trap(t)

	if want := []Vector{b, a}; !slices.Equal(env.serviced, want) {
		t.Fatalf("serviced %v, want %v", env.serviced, want)
	}
	if afterNested != outerMask {
		t.Fatalf("nested dispatch lifted the outer mask: %#v, want %#v", afterNested, outerMask)
	}
	if got := env.hardwareEnable(); got != env.ctrl.Enabled() {
		t.Fatalf("enable registers %#v, shadow %#v", got, env.ctrl.Enabled())
	}
	if stats := env.ctrl.Stats(); stats.MaxDepth != 2 || stats.Dispatched != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDispatchNestedEnableKeepsOuterMask(t *testing.T) {
	env := newTestEnv(t)
	const (
		outer = Vector(20) // priority 3
		inner = Vector(14) // priority 0
		low   = Vector(45) // priority 15
	)
	env.ctrl.SetPriority(outer, 3)
	env.ctrl.SetPriority(inner, 0)
	env.enableAll(t, outer, inner)

	var afterNested Fields
	env.handler = func(v Vector) {
		env.clearPending(v)
		switch v {
		case inner:
			if err := env.ctrl.Enable(low); err != nil {
				t.Errorf("Enable: %v", err)
			}
		case outer:
			env.setPending(inner)
			env.cpu.trap(t)
			afterNested = env.hardwareEnable()
		}
	}

	env.setPending(outer)
	env.cpu.trap(t)

	if want := []Vector{outer, inner}; !slices.Equal(env.serviced, want) {
		t.Fatalf("serviced %v, want %v", env.serviced, want)
	}
	if afterNested.Test(low) {
		t.Fatalf("priority 15 vector %d enabled while priority 3 vector %d is serviced: %#v",
			low, outer, afterNested)
	}
	if !afterNested.Test(inner) {
		t.Fatalf("outer mask lost vector %d: %#v", inner, afterNested)
	}
	if got := env.hardwareEnable(); got != env.ctrl.Enabled() || !got.Test(low) {
		t.Fatalf("enable registers %#v, shadow %#v", got, env.ctrl.Enabled())
	}

	env.serviced = nil
	env.setPending(low)
	env.cpu.trap(t)
	if !slices.Equal(env.serviced, []Vector{low}) {
		t.Fatalf("serviced %v, want [%d]", env.serviced, low)
	}
	if stats := env.ctrl.Stats(); stats.MaxDepth != 2 || stats.Dispatched != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDispatchMasksBeforeAdmitting(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 14, 20)
	env.ctrl.SetPriority(14, 2)

	var atAdmission Fields
	env.cpu.onEnableIRQ = func() {
		atAdmission = env.hardwareEnable()
	}

	env.setPending(14)
	env.cpu.trap(t)

	if atAdmission.Test(20) || atAdmission.Test(14) {
		t.Fatalf("IRQs admitted before the mask was applied: %#v", atAdmission)
	}
}

func TestDispatchRestoresAfterPanic(t *testing.T) {
	env := newTestEnv(t)
	env.enableAll(t, 14, 20)
	env.handler = func(Vector) {
		panic("handler failed")
	}

	env.setPending(14)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		env.cpu.handlers[ExceptionIRQ]()
	}()

	if got := env.hardwareEnable(); got != env.ctrl.Enabled() {
		t.Fatalf("enable registers %#v, shadow %#v", got, env.ctrl.Enabled())
	}
}

func BenchmarkDispatch(b *testing.B) {
	bus := newMemoryBus()
	cpu := &testCPU{}
	ctrl, err := New(DefaultConfig(), bus, cpu, DispatchFunc(func(Vector) {}))
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	ctrl.Initialize()
	_ = ctrl.Enable(70)
	bus.setReg(2, RegisterStatus, 1<<6)

	for b.Loop() {
		ctrl.Dispatch()
	}
}

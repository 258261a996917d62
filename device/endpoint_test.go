package device

import (
	"errors"
	"testing"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

func TestEndpointConfigAccessors(t *testing.T) {
	tests := []struct {
		name     string
		cfg      EndpointConfig
		number   uint8
		dir      hal.Direction
		transfer uint8
	}{
		{
			name:     "bulk in",
			cfg:      EndpointConfig{Address: 0x81, Attributes: EndpointTypeBulk},
			number:   1,
			dir:      hal.DirIn,
			transfer: EndpointTypeBulk,
		},
		{
			name:     "bulk out",
			cfg:      EndpointConfig{Address: 0x02, Attributes: EndpointTypeBulk},
			number:   2,
			dir:      hal.DirOut,
			transfer: EndpointTypeBulk,
		},
		{
			name:     "interrupt in high number",
			cfg:      EndpointConfig{Address: 0x8F, Attributes: EndpointTypeInterrupt},
			number:   15,
			dir:      hal.DirIn,
			transfer: EndpointTypeInterrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Number(); got != tt.number {
				t.Errorf("Number() = %d, want %d", got, tt.number)
			}
			if got := tt.cfg.Direction(); got != tt.dir {
				t.Errorf("Direction() = %v, want %v", got, tt.dir)
			}
			if got := tt.cfg.TransferType(); got != tt.transfer {
				t.Errorf("TransferType() = %d, want %d", got, tt.transfer)
			}
		})
	}
}

func TestEndpointConfigDescriptor(t *testing.T) {
	cfg := EndpointConfig{
		Address:       0x83,
		Attributes:    EndpointTypeInterrupt,
		MaxPacketSize: 16,
		Interval:      10,
	}
	desc := cfg.Descriptor()
	if desc.Length != EndpointDescriptorSize {
		t.Errorf("Length = %d, want %d", desc.Length, EndpointDescriptorSize)
	}
	if desc.DescriptorType != DescriptorTypeEndpoint {
		t.Errorf("DescriptorType = %#02x, want %#02x", desc.DescriptorType, DescriptorTypeEndpoint)
	}
	if desc.EndpointAddress != 0x83 {
		t.Errorf("EndpointAddress = %#02x, want 0x83", desc.EndpointAddress)
	}
	if desc.MaxPacketSize != 16 || desc.Interval != 10 {
		t.Errorf("MaxPacketSize, Interval = %d, %d, want 16, 10", desc.MaxPacketSize, desc.Interval)
	}
}

func TestTransferTypeName(t *testing.T) {
	tests := []struct {
		t    uint8
		want string
	}{
		{EndpointTypeControl, "Control"},
		{EndpointTypeIsochronous, "Isochronous"},
		{EndpointTypeBulk, "Bulk"},
		{EndpointTypeInterrupt, "Interrupt"},
	}
	for _, tt := range tests {
		if got := TransferTypeName(tt.t); got != tt.want {
			t.Errorf("TransferTypeName(%d) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

// configuredStack builds an attached, reset, configured stack without a
// host: the state is forced so arm paths can run in isolation.
func configuredStack(t *testing.T, pp hal.PingPong) (*Stack, *fakeEngine) {
	t.Helper()
	s, eng := newTestStack(t, Options{PingPong: pp})
	if err := s.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	eng.push(hal.Event{Kind: hal.EventReset})
	s.ServiceOnce()
	s.mu.Lock()
	s.configureLocked(1)
	s.mu.Unlock()
	return s, eng
}

func TestArmStateChecks(t *testing.T) {
	s, eng := newTestStack(t, Options{})
	if err := s.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	eng.push(hal.Event{Kind: hal.EventReset})
	s.ServiceOnce()

	if err := s.ArmIn(1, []byte{1}); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("ArmIn() before configuration error = %v, want %v", err, pkg.ErrNotConfigured)
	}
	if err := s.ArmOut(1); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("ArmOut() before configuration error = %v, want %v", err, pkg.ErrNotConfigured)
	}

	s.state = StateConfigured
	if err := s.ArmIn(0, []byte{1}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("ArmIn(0) error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
	if err := s.ArmOut(2); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("ArmOut(2) error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
	if err := s.ArmIn(1, make([]byte, 65)); !errors.Is(err, pkg.ErrPacketTooLarge) {
		t.Errorf("ArmIn() oversized error = %v, want %v", err, pkg.ErrPacketTooLarge)
	}
}

func TestArmInSingleBuffer(t *testing.T) {
	s, _ := configuredStack(t, hal.PingPongDisabled)

	if err := s.ArmIn(1, []byte("abc")); err != nil {
		t.Fatalf("ArmIn() error = %v", err)
	}
	bd := s.mem.BDT.At(1, hal.DirIn, hal.SlotEven)
	if !bd.Owned() {
		t.Fatal("descriptor not owned after arm")
	}
	if bd.Data1() {
		t.Error("first arm carries DATA1, want DATA0")
	}
	if bd.Cnt != 3 {
		t.Errorf("Cnt = %d, want 3", bd.Cnt)
	}
	if got := string(s.mem.Arena[bd.Addr : int(bd.Addr)+3]); got != "abc" {
		t.Errorf("arena bytes = %q, want %q", got, "abc")
	}

	// Single-buffered: the second arm has nowhere to go.
	if err := s.ArmIn(1, []byte("d")); !errors.Is(err, pkg.ErrOwned) {
		t.Errorf("second ArmIn() error = %v, want %v", err, pkg.ErrOwned)
	}
}

func TestArmInDoubleBuffer(t *testing.T) {
	s, _ := configuredStack(t, hal.PingPongAll)

	if err := s.ArmIn(1, []byte("a")); err != nil {
		t.Fatalf("first ArmIn() error = %v", err)
	}
	if err := s.ArmIn(1, []byte("b")); err != nil {
		t.Fatalf("second ArmIn() error = %v", err)
	}
	even := s.mem.BDT.At(1, hal.DirIn, hal.SlotEven)
	odd := s.mem.BDT.At(1, hal.DirIn, hal.SlotOdd)
	if !even.Owned() || !odd.Owned() {
		t.Fatal("both slots should be armed")
	}
	if even.Data1() {
		t.Error("even slot carries DATA1, want DATA0")
	}
	if !odd.Data1() {
		t.Error("odd slot carries DATA0, want DATA1")
	}

	if err := s.ArmIn(1, []byte("c")); !errors.Is(err, pkg.ErrOwned) {
		t.Errorf("third ArmIn() error = %v, want %v", err, pkg.ErrOwned)
	}
}

func TestArmAlternatesAfterCompletion(t *testing.T) {
	s, eng := configuredStack(t, hal.PingPongAll)

	if err := s.ArmIn(1, []byte("a")); err != nil {
		t.Fatalf("ArmIn() error = %v", err)
	}
	bd := s.mem.BDT.At(1, hal.DirIn, hal.SlotEven)
	bd.Complete(hal.PIDIn, 1)
	eng.push(hal.Event{Kind: hal.EventTransaction, Txn: hal.Transaction{
		EP: 1, Dir: hal.DirIn, Slot: hal.SlotEven,
	}})
	s.ServiceOnce()

	// Next arm must land on the odd slot with DATA1.
	if err := s.ArmIn(1, []byte("b")); err != nil {
		t.Fatalf("ArmIn() after completion error = %v", err)
	}
	odd := s.mem.BDT.At(1, hal.DirIn, hal.SlotOdd)
	if !odd.Owned() {
		t.Fatal("odd slot not armed after even completed")
	}
	if !odd.Data1() {
		t.Error("toggle did not advance across completion")
	}
}

func TestArmInZLP(t *testing.T) {
	s, _ := configuredStack(t, hal.PingPongDisabled)

	if err := s.ArmIn(1, nil); err != nil {
		t.Fatalf("ArmIn(nil) error = %v", err)
	}
	bd := s.mem.BDT.At(1, hal.DirIn, hal.SlotEven)
	if bd.Cnt != 0 {
		t.Errorf("ZLP Cnt = %d, want 0", bd.Cnt)
	}
	if !bd.Owned() {
		t.Error("ZLP descriptor not owned")
	}
}

func TestStallAndClear(t *testing.T) {
	s, _ := configuredStack(t, hal.PingPongDisabled)

	if err := s.StallEndpoint(0, hal.DirIn); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("StallEndpoint(0) error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}

	if err := s.ArmIn(1, []byte("x")); err != nil {
		t.Fatalf("ArmIn() error = %v", err)
	}
	if err := s.StallEndpoint(1, hal.DirIn); err != nil {
		t.Fatalf("StallEndpoint() error = %v", err)
	}
	if !s.Halted(1, hal.DirIn) {
		t.Fatal("Halted() = false after stall")
	}
	bd := s.mem.BDT.At(1, hal.DirIn, hal.SlotEven)
	if !bd.Owned() || !bd.Stalled() {
		t.Error("stalled descriptor should be owned with BSTALL set")
	}
	if err := s.ArmIn(1, []byte("y")); !errors.Is(err, pkg.ErrHalted) {
		t.Errorf("ArmIn() while halted error = %v, want %v", err, pkg.ErrHalted)
	}

	if err := s.ClearStall(1, hal.DirIn); err != nil {
		t.Fatalf("ClearStall() error = %v", err)
	}
	if s.Halted(1, hal.DirIn) {
		t.Fatal("Halted() = true after clear")
	}
	if bd.Owned() {
		t.Error("descriptor still owned after clear")
	}

	// Halt clear resets the toggle: the next packet is DATA0.
	if err := s.ArmIn(1, []byte("z")); err != nil {
		t.Fatalf("ArmIn() after clear error = %v", err)
	}
	if bd.Data1() {
		t.Error("first packet after halt clear carries DATA1, want DATA0")
	}
}

func TestEndpointSnapshot(t *testing.T) {
	s, _ := configuredStack(t, hal.PingPongDisabled)

	st := s.Endpoint(1, hal.DirIn)
	if st.Toggle || st.Halted || st.Armed[hal.SlotEven] {
		t.Errorf("fresh endpoint snapshot = %+v, want zeroed", st)
	}

	if err := s.ArmIn(1, []byte("x")); err != nil {
		t.Fatalf("ArmIn() error = %v", err)
	}
	st = s.Endpoint(1, hal.DirIn)
	if !st.Armed[hal.SlotEven] {
		t.Error("snapshot does not show the armed slot")
	}
	if !st.Toggle {
		t.Error("snapshot toggle did not advance with the arm")
	}
}

package bus

import (
	"slices"
	"testing"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Fake)(nil)

func TestProbeAllReportsPresentDevices(t *testing.T) {
	fake := NewFake(0x24, 0x11, 0x77)
	got := slices.Collect(NewDirectory(fake).ProbeAll())
	want := []uint8{0x11, 0x24, 0x77}
	if !slices.Equal(got, want) {
		t.Fatalf("ProbeAll = %#x, want %#x", got, want)
	}
}

func TestProbeAllSkipsBlacklist(t *testing.T) {
	fake := NewFake(0x18, 0x28, 0x36, 0x40)
	got := slices.Collect(NewDirectory(fake).ProbeAll())
	if !slices.Equal(got, []uint8{0x40}) {
		t.Fatalf("ProbeAll = %#x, want [0x40]", got)
	}
	for _, tx := range fake.Transactions() {
		if Blacklist[uint8(tx.Addr)] {
			t.Errorf("blacklisted address 0x%02x was probed", tx.Addr)
		}
		if tx.Addr < FirstAddress || tx.Addr > LastAddress {
			t.Errorf("reserved address 0x%02x was probed", tx.Addr)
		}
		if len(tx.W) != 1 || tx.W[0] != 0 {
			t.Errorf("probe payload = % x, want 00", tx.W)
		}
	}
	if n := len(fake.Transactions()); n != LastAddress-FirstAddress+1-len(Blacklist) {
		t.Errorf("probed %d addresses", n)
	}
}

func TestProbeAllIsLazy(t *testing.T) {
	fake := NewFake(0x10, 0x20)
	for addr := range NewDirectory(fake).ProbeAll() {
		if addr != 0x10 {
			t.Fatalf("first address = %#x", addr)
		}
		break
	}
	if last := fake.Transactions(); last[len(last)-1].Addr != 0x10 {
		t.Fatalf("scan continued past early stop to 0x%02x", last[len(last)-1].Addr)
	}
}

func TestProbeAllNilBus(t *testing.T) {
	if got := slices.Collect(NewDirectory(nil).ProbeAll()); len(got) != 0 {
		t.Fatalf("ProbeAll on nil bus = %#x", got)
	}
}

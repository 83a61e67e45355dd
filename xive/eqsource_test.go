package xive

import "testing"

func TestNewEQSourceValidation(t *testing.T) {
	backend := NewMapBackend(nil)

	if _, err := NewEQSource(0, ESBShift64K, 0, backend); err != ErrNoEQs {
		t.Errorf("nr_eqs=0: err = %v, want ErrNoEQs", err)
	}
	if _, err := NewEQSource(4, ESBShift64K2Page, 0, backend); err != ErrBadESBShift {
		t.Errorf("two-page shift: err = %v, want ErrBadESBShift", err)
	}
	if _, err := NewEQSource(4, ESBShift64K, 0, nil); err != ErrMissingBackend {
		t.Errorf("nil backend: err = %v, want ErrMissingBackend", err)
	}
}

func TestEQSourceWriteIsAlwaysInvalid(t *testing.T) {
	backend := NewMapBackend(nil)
	es, err := NewEQSource(4, ESBShift64K, 0, backend)
	if err != nil {
		t.Fatal(err)
	}
	if err := es.Write(0, 8, 0); err != nil {
		t.Fatalf("Write returned error %v, want nil (guest error is logged, not returned)", err)
	}
}

func TestEQSourceGetSetPQOnESn(t *testing.T) {
	backend := NewMapBackend(nil)
	es, _ := NewEQSource(4, ESBShift64K, 0, backend)

	eq := &EQ{}
	ResetEQDefaults(eq)
	eq.W0 |= uint32(1) << 31 // VALID
	eq.SetESn(ESBReset)
	backend.SetEQ(0, 2, eq)

	pageSize := uint64(1) << ESBShift64K
	even := pageSize * 2 * 2 // EQ index 2's even (ESn) page

	ret, err := es.Read(even|0xC00, 8) // SET_PQ_00
	if err != nil {
		t.Fatal(err)
	}
	if ret != uint64(ESBReset) {
		t.Errorf("old PQ = %#x, want RESET", ret)
	}

	got, _ := backend.GetEQ(0, 2)
	if got.ESn() != ESBReset {
		t.Errorf("ESn after SET_PQ_00 = %#x, want RESET (00)", got.ESn())
	}
}

func TestEQSourceESeOnOddPage(t *testing.T) {
	backend := NewMapBackend(nil)
	es, _ := NewEQSource(4, ESBShift64K, 0, backend)

	eq := &EQ{}
	ResetEQDefaults(eq)
	eq.W0 |= uint32(1) << 31
	eq.SetESe(ESBPending)
	backend.SetEQ(0, 1, eq)

	pageSize := uint64(1) << ESBShift64K
	odd := pageSize*2*1 + pageSize // EQ index 1's odd (ESe) page

	ret, err := es.Read(odd|0x800, 8) // GET
	if err != nil {
		t.Fatal(err)
	}
	if ret != uint64(ESBPending) {
		t.Errorf("ESe GET = %#x, want PENDING", ret)
	}
}

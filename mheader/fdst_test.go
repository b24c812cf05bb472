package mheader

import (
	"bytes"
	"testing"
)

func TestFDSTEncodeDecodeRoundTrip(t *testing.T) {
	flows := [][]byte{[]byte("0123456789"), []byte("abcde"), []byte("XY")}
	f := BuildFDST(flows)

	encoded := f.Encode()
	got, err := DecodeFDST(encoded, "fdst")
	if err != nil {
		t.Fatalf("DecodeFDST: %v", err)
	}

	text := bytes.Join(flows, nil)
	split := SplitFlow(text, got, true)
	if len(split) != len(flows) {
		t.Fatalf("got %d flows, want %d", len(split), len(flows))
	}
	for i := range flows {
		if !bytes.Equal(split[i], flows[i]) {
			t.Errorf("flow[%d] = %q, want %q", i, split[i], flows[i])
		}
	}
}

func TestSplitFlowFallsBackWhenUnset(t *testing.T) {
	text := []byte("entire text")
	split := SplitFlow(text, nil, false)
	if len(split) != 1 || !bytes.Equal(split[0], text) {
		t.Errorf("SplitFlow fallback = %v, want [%q]", split, text)
	}
}

func TestSplitFlowEmptyText(t *testing.T) {
	split := SplitFlow(nil, nil, false)
	if len(split) != 0 {
		t.Errorf("SplitFlow(nil) = %v, want empty", split)
	}
}

func TestDecodeFDSTRejectsBadMagic(t *testing.T) {
	if _, err := DecodeFDST([]byte("XXXXxxxxxxxx"), "fdst"); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

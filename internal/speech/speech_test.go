package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pcm16(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func TestDecodePCM16(t *testing.T) {
	got, err := DecodePCM16(pcm16(0, 16384, -16384, math.MaxInt16, math.MinInt16))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := []float32{0, 0.5, -0.5, float32(math.MaxInt16) / 32768, -1}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for odd-length payload")
	}
}

func TestEncodeFloat32LE(t *testing.T) {
	raw := EncodeFloat32LE([]float32{0.25, -1})
	if len(raw) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(raw))
	}
	if v := math.Float32frombits(binary.LittleEndian.Uint32(raw[4:])); v != -1 {
		t.Fatalf("second sample = %v, want -1", v)
	}
}

func TestClientSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Voice != DefaultVoice || req.ResponseFormat != "pcm" || req.Model != DefaultModel {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Input != "Warning! Threat detected." {
			t.Errorf("unexpected input %q", req.Input)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(pcm16(0, 16384, -16384))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	audio, err := c.Synthesize(context.Background(), "Warning! Threat detected.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.SampleRate != 24000 || len(audio.Samples) != 3 || audio.Samples[1] != 0.5 {
		t.Fatalf("unexpected audio %+v", audio)
	}
}

func TestClientSynthesizeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "nobody")
	if _, err := c.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if _, err := c.Synthesize(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

package engine

import "testing"

func TestProviderString(t *testing.T) {
	tests := []struct {
		provider Provider
		want     string
	}{
		{ProviderDefault, "default"},
		{ProviderCPU, "cpu"},
		{ProviderCUDA, "cuda"},
		{ProviderTensorRT, "tensorrt"},
		{ProviderROCm, "rocm"},
	}
	for _, tt := range tests {
		if got := tt.provider.String(); got != tt.want {
			t.Errorf("Provider(%d).String() = %q, want %q", int(tt.provider), got, tt.want)
		}
	}
}

func TestParseProvider(t *testing.T) {
	for _, p := range []Provider{ProviderDefault, ProviderCPU, ProviderCUDA, ProviderTensorRT, ProviderROCm} {
		got, err := ParseProvider(p.String())
		if err != nil {
			t.Fatalf("ParseProvider(%q) failed: %v", p.String(), err)
		}
		if got != p {
			t.Errorf("ParseProvider(%q) = %v, want %v", p.String(), got, p)
		}
	}

	// Empty string means default.
	if got, err := ParseProvider(""); err != nil || got != ProviderDefault {
		t.Errorf("ParseProvider(\"\") = %v, %v, want default", got, err)
	}

	if _, err := ParseProvider("tpu"); err == nil {
		t.Error("ParseProvider should reject unknown names")
	}
}

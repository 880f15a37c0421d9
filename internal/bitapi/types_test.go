package bitapi

import "testing"

func TestMatchesEmailPrefersUserName(t *testing.T) {
	w := WindowInfo{UserName: "User@Example.com", Remark: "other@example.com----pw"}
	if !w.MatchesEmail("user@example.com") {
		t.Fatal("expected userName match")
	}
	if w.MatchesEmail("other@example.com") {
		t.Fatal("remark must not match when userName is set")
	}
}

func TestMatchesEmailFallsBackToRemark(t *testing.T) {
	cases := []struct {
		remark string
		email  string
		want   bool
	}{
		{"a@x.com----pw----b@x.com----SECRET", "a@x.com", true},
		{"a@x.com|pw", "a@x.com", true},
		{"a@x.com pw extra", "a@x.com", true},
		{"a@x.com", "a@x.com", true},
		{"b@x.com----pw", "a@x.com", false},
		{"", "a@x.com", false},
	}
	for _, tc := range cases {
		w := WindowInfo{Remark: tc.remark}
		if got := w.MatchesEmail(tc.email); got != tc.want {
			t.Errorf("remark %q match %q = %v, want %v", tc.remark, tc.email, got, tc.want)
		}
	}
}

func TestDeviceClass(t *testing.T) {
	if got := (WindowInfo{OSType: "Android"}).DeviceClass(); got != DeviceMobile {
		t.Fatalf("ostype Android = %s, want mobile", got)
	}
	if got := (WindowInfo{Fingerprint: map[string]any{"os": "Linux armv8l android"}}).DeviceClass(); got != DeviceMobile {
		t.Fatalf("fingerprint os = %s, want mobile", got)
	}
	if got := (WindowInfo{OSType: "PC", OS: "Win32"}).DeviceClass(); got != DeviceDesktop {
		t.Fatalf("PC window = %s, want desktop", got)
	}
}

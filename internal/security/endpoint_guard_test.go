package security

import (
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	guard := NewEndpointGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"GitHub API", "https://api.github.com", false},
		{"GitHub Enterprise", "https://ghe.example.com/api/v3", false},
		{"httpも許可", "http://mirror.example.com", false},
		{"空URL", "", true},
		{"不正なURL", "://bad", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"ftpスキーム", "ftp://example.com", true},
		{"localhost", "https://localhost/api", true},
		{"大文字のlocalhost", "https://LOCALHOST/api", true},
		{"ループバックIP", "https://127.0.0.1/api", true},
		{"プライベートIP 10系", "https://10.0.0.1/api", true},
		{"プライベートIP 172系", "https://172.16.0.1/api", true},
		{"プライベートIP 192系", "https://192.168.1.1/api", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "https://[::1]/api", true},
		{"パブリックIP", "https://140.82.112.3/api", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateURL(%q) はエラーを返すべき", tt.url)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateURL(%q) がエラーを返した: %v", tt.url, err)
			}
		})
	}
}

func TestNewSafeClient(t *testing.T) {
	guard := NewEndpointGuard()

	client := guard.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient がnilを返した")
	}
	if client.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 10*time.Second)
	}
}

// compile-time interface check
var _ EndpointGuardService = (*endpointGuard)(nil)

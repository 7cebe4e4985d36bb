package archive

import "testing"

func TestS3Storage_Key(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "run.json", "run.json"},
		{"arena", "run.json", "arena/run.json"},
		{"arena/", "/run.json", "arena/run.json"},
	}

	for _, tt := range tests {
		s, err := NewS3(S3Config{Bucket: "b", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("NewS3: %v", err)
		}
		if got := s.key(tt.path); got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
		if got := s.relative(s.key(tt.path)); got != "run.json" {
			t.Errorf("relative = %q", got)
		}
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	if err != nil || s != nil {
		t.Errorf("disabled archive: %v, %v", s, err)
	}
	if _, err := Open(Config{Type: "localfs"}); err == nil {
		t.Error("expected error for localfs without path")
	}
	if _, err := Open(Config{Type: "ftp"}); err == nil {
		t.Error("expected error for unknown type")
	}
	s, err = Open(Config{Type: "localfs", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*LocalFS); !ok {
		t.Errorf("expected *LocalFS, got %T", s)
	}
}

package domain

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "git source prefix", in: "a/src/app.py", want: "src/app.py"},
		{name: "git destination prefix", in: "b/src/app.py", want: "src/app.py"},
		{name: "rename from marker", in: "rename from old/name.py", want: "old/name.py"},
		{name: "rename to marker", in: "rename to new/name.py", want: "new/name.py"},
		{name: "windows separators", in: "src\\pkg\\main.go", want: "src/pkg/main.go"},
		{name: "leading dot slash", in: "./cmd/main.go", want: "cmd/main.go"},
		{name: "leading slash", in: "/etc/app.yaml", want: "etc/app.yaml"},
		{name: "already clean", in: "internal/server.go", want: "internal/server.go"},
		{name: "surrounding whitespace", in: "  a/file.py ", want: "file.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.in); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "app/views.py", want: "python"},
		{path: "cmd/main.go", want: "golang"},
		{path: "web/index.tsx", want: "typescript"},
		{path: "web/app.jsx", want: "javascript"},
		{path: "deploy/values.yaml", want: "yaml"},
		{path: "README.md", want: LanguageText},
		{path: "Makefile", want: LanguageUnknown},
		{path: "LICENSE", want: LanguageUnknown},
	}

	for _, tt := range tests {
		if got := DetectLanguage(tt.path); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestPrimaryLanguage(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "majority wins",
			files: []string{"a.py", "b.py", "c.go"},
			want:  "python",
		},
		{
			name:  "docs and unknown ignored",
			files: []string{"README.md", "LICENSE", "main.go"},
			want:  "golang",
		},
		{
			name:  "nothing detected",
			files: []string{"README.md", "Makefile"},
			want:  "default",
		},
		{
			name:  "empty list",
			files: nil,
			want:  "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrimaryLanguage(tt.files); got != tt.want {
				t.Errorf("PrimaryLanguage(%v) = %q, want %q", tt.files, got, tt.want)
			}
		})
	}
}

package captcha

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveImageURL(t *testing.T) {
	tests := []struct {
		name    string
		attrs   map[string]string
		base    string
		want    string
		wantErr bool
	}{
		{
			name:  "src wins",
			attrs: map[string]string{"src": "https://cdn.example/a.png", "style": `background-image: url("https://cdn.example/b.png")`},
			want:  "https://cdn.example/a.png",
		},
		{
			name:  "quoted style url",
			attrs: map[string]string{"style": `width: 340px; background-image: url("https://cdn.example/bg?a=1&amp;b=2");`},
			want:  "https://cdn.example/bg?a=1&b=2",
		},
		{
			name:  "unquoted style url",
			attrs: map[string]string{"style": `background-image: url(https://cdn.example/bg.jpg)`},
			want:  "https://cdn.example/bg.jpg",
		},
		{
			name:  "protocol relative",
			attrs: map[string]string{"src": "//cdn.example/a.png"},
			want:  "https://cdn.example/a.png",
		},
		{
			name:  "empty src falls through",
			attrs: map[string]string{"src": "  ", "style": `background-image: url('https://cdn.example/c.png')`},
			want:  "https://cdn.example/c.png",
		},
		{
			name:  "root relative src",
			attrs: map[string]string{"src": "/cap_union_new_getcapbysig?img_index=1&amp;sess=abc"},
			base:  "https://captcha.example/cap_union_new_show?aid=1",
			want:  "https://captcha.example/cap_union_new_getcapbysig?img_index=1&sess=abc",
		},
		{
			name:  "path relative src",
			attrs: map[string]string{"src": "img/a.png"},
			base:  "https://captcha.example/static/frame.html",
			want:  "https://captcha.example/static/img/a.png",
		},
		{
			name:  "relative style url",
			attrs: map[string]string{"style": `background-image: url("../bg/1.jpg")`},
			base:  "https://captcha.example/static/v2/frame.html",
			want:  "https://captcha.example/static/bg/1.jpg",
		},
		{
			name:  "absolute src ignores base",
			attrs: map[string]string{"src": "https://cdn.example/a.png"},
			base:  "https://captcha.example/frame.html",
			want:  "https://cdn.example/a.png",
		},
		{
			name:    "relative src without document url",
			attrs:   map[string]string{"src": "/img/a.png"},
			wantErr: true,
		},
		{
			name:    "no source",
			attrs:   map[string]string{"style": "width: 10px"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{attrs: map[string]map[string]string{"#el": tt.attrs}, base: tt.base}
			got, err := ResolveImageURL(context.Background(), page, "#el")
			if tt.wantErr {
				if KindOf(err) != KindSourceNotFound {
					t.Fatalf("err = %v, want %s", err, KindSourceNotFound)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveImageURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveImageURLMissingElement(t *testing.T) {
	page := &fakePage{attrs: map[string]map[string]string{}}
	_, err := ResolveImageURL(context.Background(), page, "#gone")
	if KindOf(err) != KindSourceNotFound {
		t.Errorf("kind = %s, want %s", KindOf(err), KindSourceNotFound)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			w.Write([]byte("image-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.jpg")
	f := NewFetcherWithClient(srv.Client())

	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.Download(context.Background(), srv.URL+"/ok.jpg", path); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "image-bytes" {
		t.Errorf("file = %q, want image-bytes", data)
	}

	err := f.Download(context.Background(), srv.URL+"/missing.jpg", filepath.Join(dir, "missing.jpg"))
	if KindOf(err) != KindDownloadFailed {
		t.Errorf("kind = %s, want %s", KindOf(err), KindDownloadFailed)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "missing.jpg")); !os.IsNotExist(statErr) {
		t.Error("failed download left a file behind")
	}
}

func TestFetchRelativeElementImage(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RequestURI()
		w.Write([]byte("sprite"))
	}))
	defer srv.Close()

	page := &fakePage{
		attrs: map[string]map[string]string{"#img": {"src": "/cap_union_new_getcapbysig?img_index=1"}},
		base:  srv.URL + "/cap_union_new_show",
	}
	path := filepath.Join(t.TempDir(), "sprite.jpg")
	if err := NewFetcherWithClient(srv.Client()).FetchElementImage(context.Background(), page, "#img", path); err != nil {
		t.Fatalf("FetchElementImage: %v", err)
	}
	if got != "/cap_union_new_getcapbysig?img_index=1" {
		t.Errorf("requested %q", got)
	}
}

func TestDownloadDataURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})

	if err := NewFetcher().Download(context.Background(), url, path); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "\x89PNG" {
		t.Errorf("file = %q", data)
	}

	if err := NewFetcher().Download(context.Background(), "data:image/png;base64", path); KindOf(err) != KindDownloadFailed {
		t.Errorf("malformed data url kind = %s, want %s", KindOf(err), KindDownloadFailed)
	}
}

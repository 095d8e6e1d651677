package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/target"
)

func TestMatchFrameTarget(t *testing.T) {
	infos := []*target.Info{
		{TargetID: "page", Type: "page", URL: "https://captcha.example/cap_union_new_show?aid=1"},
		{TargetID: "ad", Type: "iframe", URL: "https://ads.example/slot"},
		{TargetID: "cap", Type: "iframe", URL: "https://captcha.example/cap_union_new_show?aid=1&sess=xyz"},
	}
	tests := []struct {
		name   string
		src    string
		wantID target.ID
		wantOK bool
	}{
		{"exact prefix", "https://captcha.example/cap_union_new_show?aid=1", "cap", true},
		{"scheme insensitive", "http://captcha.example/cap_union_new_show", "cap", true},
		{"protocol relative", "//captcha.example/cap_union_new_show", "cap", true},
		{"full url", "https://captcha.example/cap_union_new_show?aid=1&sess=xyz", "cap", true},
		{"other iframe", "https://ads.example/", "ad", true},
		{"no match", "https://captcha.example/other", "", false},
		{"empty src", "", "", false},
		{"scheme only", "https:", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := matchFrameTarget(infos, tt.src)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("matchFrameTarget(%q) = (%q, %v), want (%q, %v)", tt.src, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMatchFrameTargetSkipsPages(t *testing.T) {
	infos := []*target.Info{
		{TargetID: "page", Type: "page", URL: "https://captcha.example/show"},
	}
	if id, ok := matchFrameTarget(infos, "https://captcha.example/show"); ok {
		t.Errorf("page target %q matched as a frame", id)
	}
}

func TestPageBox(t *testing.T) {
	element := &dom.BoxModel{
		Border: dom.Quad{12, 30, 312, 30, 312, 230, 12, 230},
		Width:  300,
		Height: 200,
	}
	tests := []struct {
		name                            string
		origin                          *dom.BoxModel
		wantLeft, wantTop, wantW, wantH float64
	}{
		{"in process", nil, 12, 30, 300, 200},
		{
			"out of process adds iframe content origin",
			&dom.BoxModel{
				Content: dom.Quad{100, 250, 460, 250, 460, 560, 100, 560},
				Border:  dom.Quad{98, 248, 462, 248, 462, 562, 98, 562},
			},
			112, 280, 300, 200,
		},
		{"origin without content quad", &dom.BoxModel{}, 12, 30, 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, top, w, h := pageBox(element, tt.origin)
			if left != tt.wantLeft || top != tt.wantTop || w != tt.wantW || h != tt.wantH {
				t.Errorf("pageBox = (%v, %v, %v, %v), want (%v, %v, %v, %v)",
					left, top, w, h, tt.wantLeft, tt.wantTop, tt.wantW, tt.wantH)
			}
		})
	}
}

type rootKey struct{}

func TestFrameRootContext(t *testing.T) {
	root := context.WithValue(context.Background(), rootKey{}, "browser")
	f := &Frame{root: root, timeout: time.Minute}

	t.Run("keeps root values", func(t *testing.T) {
		rctx, done := f.rootContext(context.Background())
		defer done()
		if rctx.Value(rootKey{}) != "browser" {
			t.Error("derived context lost the root's values")
		}
		if rctx.Err() != nil {
			t.Errorf("derived context already done: %v", rctx.Err())
		}
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		rctx, done := f.rootContext(ctx)
		defer done()

		cancel()
		select {
		case <-rctx.Done():
		case <-time.After(time.Second):
			t.Fatal("cancelling the caller did not stop the derived context")
		}
	})

	t.Run("frame timeout", func(t *testing.T) {
		short := &Frame{root: root, timeout: 10 * time.Millisecond}
		rctx, done := short.rootContext(context.Background())
		defer done()

		<-rctx.Done()
		if !errors.Is(rctx.Err(), context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", rctx.Err())
		}
	})

	t.Run("release detaches", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_, done := f.rootContext(ctx)
		done()
		if ctx.Err() != nil {
			t.Error("releasing the derived context cancelled the caller")
		}
	})
}

func TestFrameClickHonoursCallerContext(t *testing.T) {
	f := &Frame{root: context.Background(), timeout: time.Minute, pointer: NewPointer()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.click(ctx, 10, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("click with cancelled caller = %v, want context.Canceled", err)
	}
}

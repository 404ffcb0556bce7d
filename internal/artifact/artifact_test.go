package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/storefront-e2e/internal/s3client"
)

type stubPage struct {
	html    string
	htmlErr error
	png     []byte
	pngErr  error
}

func (p stubPage) Content() (string, error)    { return p.html, p.htmlErr }
func (p stubPage) Screenshot() ([]byte, error) { return p.png, p.pngErr }

type failingSink struct{ calls int }

func (f *failingSink) Put(context.Context, string, []byte, string) (string, error) {
	f.calls++
	return "", errors.New("disk full")
}

func TestRecorder_DirSinkWritesHTMLAndPNG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := &Recorder{Sink: DirSink{Dir: dir}}

	r.CapturePage(context.Background(), "auth-debug-a1", stubPage{html: "<h1>login</h1>", png: []byte("png")})

	html, err := os.ReadFile(filepath.Join(dir, "auth-debug-a1.html"))
	require.NoError(t, err)
	require.Equal(t, "<h1>login</h1>", string(html))
	_, err = os.Stat(filepath.Join(dir, "auth-debug-a1.png"))
	require.NoError(t, err)
}

func TestRecorder_PartialAndFailedCapturesAreSwallowed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := &Recorder{Sink: DirSink{Dir: dir}}
	r.CapturePage(context.Background(), "x", stubPage{html: "ok", pngErr: errors.New("page crashed")})
	_, err := os.Stat(filepath.Join(dir, "x.html"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "x.png"))
	require.True(t, os.IsNotExist(err))

	sink := &failingSink{}
	(&Recorder{Sink: sink}).CapturePage(context.Background(), "y", stubPage{html: "ok", png: []byte("p")})
	require.Equal(t, 2, sink.calls)

	var nilRecorder *Recorder
	nilRecorder.CapturePage(context.Background(), "z", stubPage{})
	nilRecorder.Save(context.Background(), "z.txt", nil, "text/plain")
}

func TestRecorder_SanitizesNames(t *testing.T) {
	t.Parallel()
	require.Equal(t, "_/etc/passwd", sanitize("../etc/passwd"))
	require.Equal(t, "dashboard_Sales_Tools.png", sanitize("dashboard Sales Tools.png"))
}

func TestS3Sink_UploadsUnderPrefix(t *testing.T) {
	t.Parallel()
	client := s3client.TestClient(t, "e2e-artifacts")
	r := &Recorder{Sink: S3Sink{Client: client, Prefix: "runs/42/"}}
	r.Save(context.Background(), "auth-debug-a1.html", []byte("<html/>"), "text/html")

	got, err := client.GetObject(context.Background(), "runs/42/auth-debug-a1.html")
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(got))
}

package statusd

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

type fakeSource struct{ snap RunSnap }

func (f fakeSource) Snap() RunSnap { return f.snap }

func TestServerHandleRendersSnapshot(t *testing.T) {
	s := New(":0")
	s.SetSource(fakeSource{snap: RunSnap{
		RunID:   "run-1",
		Backend: "in_house_p2p",
		Workers: []WorkerSnap{{Rank: 0, Device: 0, State: "running", Iter: 3}},
	}})

	if s.source == nil {
		t.Fatal("expected source to be installed")
	}
	var req fasthttp.Request
	req.SetRequestURI("/v1/status")
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.handle(&ctx)
	if code := ctx.Response.StatusCode(); code != fasthttp.StatusOK {
		t.Fatalf("status code = %d, want %d", code, fasthttp.StatusOK)
	}
	body := ctx.Response.Body()
	var decoded RunSnap
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Workers) != 1 || decoded.Workers[0].Iter != 3 {
		t.Fatalf("round-tripped snapshot mismatch: %+v", decoded)
	}
}

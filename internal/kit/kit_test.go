package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errFail := errors.New("fail")

	ep := Logging(logger, "aibadge_check")(func(context.Context, any) (any, error) {
		return nil, errFail
	})
	ctx := WithRequestID(WithTransport(context.Background(), "http"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}
	out := buf.String()
	for _, want := range []string{"kit: call failed", "endpoint=aibadge_check", "transport=http", "request_id=req_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestRecover(t *testing.T) {
	ep := Recover()(func(context.Context, any) (any, error) {
		panic("boom")
	})
	resp, err := ep(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") || resp != nil {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
}

func TestContext_EmptyDefaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "" || GetRequestID(ctx) != "" {
		t.Error("expected empty values on bare context")
	}
}

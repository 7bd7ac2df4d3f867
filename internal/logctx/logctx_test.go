package logctx

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextWithoutLogger(t *testing.T) {
	for _, ctx := range []context.Context{nil, context.Background()} { //nolint:staticcheck // nil context is part of the contract
		var buf bytes.Buffer
		l := FromContext(ctx).Output(&buf)
		l.Info().Msg("x")
		if buf.Len() == 0 {
			t.Error("expected default logger to produce output")
		}
	}
}

func TestEnrichment(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))
	ctx = WithStr(ctx, "prefix", "1 2")
	ctx = WithInt(ctx, "bucket", 3)
	ctx = WithInstance(ctx, "attempt_0")

	log := FromContext(ctx)
	log.Info().Msg("placed")

	out := buf.String()
	for _, want := range []string{`"prefix":"1 2"`, `"bucket":3`, `"instance":"attempt_0"`, `"message":"placed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestSetDefaultLogger(t *testing.T) {
	prev := DefaultLogger()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	var buf bytes.Buffer
	SetDefaultLogger(zerolog.New(&buf).With().Str("default", "yes").Logger())
	log := FromContext(context.Background())
	log.Info().Msg("x")
	if !strings.Contains(buf.String(), `"default":"yes"`) {
		t.Errorf("default logger not used: %s", buf.String())
	}
}

func TestWithKeepsParentFields(t *testing.T) {
	var buf bytes.Buffer
	parent := WithStr(WithLogger(context.Background(), zerolog.New(&buf)), "phase", "reduce")
	child := With(parent, func(c zerolog.Context) zerolog.Context { return c.Bool("debug", true) })

	parentLog, childLog := FromContext(parent), FromContext(child)
	parentLog.Info().Msg("parent")
	childLog.Info().Msg("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if strings.Contains(lines[0], `"debug"`) {
		t.Errorf("parent logger picked up child field: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"phase":"reduce"`) || !strings.Contains(lines[1], `"debug":true`) {
		t.Errorf("child line = %s", lines[1])
	}
}

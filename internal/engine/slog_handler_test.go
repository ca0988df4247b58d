package engine

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandler(t *testing.T) {
	sink := &memSink{}
	lb := newTestBuffer(t, Options{Uploader: newRecordingUploader(), OpenSink: sink.opener()})
	logger := slog.New(NewSlogHandler(lb, slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("user login", "user_id", 42)
	logger.With("svc", "cart").WithGroup("req").Warn("slow", "ms", 900)
	logger.Error("failed", slog.Group("db", slog.String("op", "insert")))
	logger.Log(context.Background(), slog.LevelError+4, "giving up")

	content := sink.content()
	for _, want := range []string{
		"[info] user login user_id=42\n",
		"[warn] slow svc=cart req.ms=900\n",
		"[error] failed db.op=insert\n",
		"[fatal] giving up\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("file missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "hidden") {
		t.Error("record below level was written")
	}
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug - 4, LabelDebug},
		{slog.LevelDebug, LabelDebug},
		{slog.LevelInfo, LabelInfo},
		{slog.LevelWarn, LabelWarn},
		{slog.LevelError, LabelError},
		{slog.LevelError + 4, LabelFatal},
	}
	for _, tt := range tests {
		if got := labelFor(tt.level); got != tt.want {
			t.Errorf("labelFor(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestSlogHandler_InlinesEmptyKeyGroups(t *testing.T) {
	sink := &memSink{}
	lb := newTestBuffer(t, Options{Uploader: newRecordingUploader(), OpenSink: sink.opener()})
	logger := slog.New(NewSlogHandler(lb, nil)).WithGroup("g")

	logger.Info("inline", slog.Group("", slog.String("k", "v")))
	logger.With(slog.Group("", slog.Int("n", 1))).Info("with")
	slog.New(NewSlogHandler(lb, nil)).Info("top", slog.Group("", slog.String("a", "b")))

	content := sink.content()
	for _, want := range []string{
		"[info] inline g.k=v\n",
		"[info] with g.n=1\n",
		"[info] top a=b\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("file missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "..") {
		t.Errorf("empty group key rendered:\n%s", content)
	}
}

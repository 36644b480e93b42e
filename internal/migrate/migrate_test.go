package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/bruh/migrations"
)

var _ goose.Logger = gooseLogger{}

func TestGooseLogger_Printf(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := gooseLogger{zap.New(core).Sugar()}

	l.Printf("OK   %s (%d ms)\n", "00001_users.sql", 12)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want one entry, got %d", len(entries))
	}
	if got := entries[0].Message; got != "OK   00001_users.sql (12 ms)" {
		t.Fatalf("message = %q", got)
	}
}

func TestEmbeddedMigrations_Annotated(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for _, n := range names {
		b, err := fs.ReadFile(migrations.FS, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		if !strings.Contains(string(b), "-- +goose Up") || !strings.Contains(string(b), "-- +goose Down") {
			t.Fatalf("%s lacks goose Up/Down annotations", n)
		}
	}
}

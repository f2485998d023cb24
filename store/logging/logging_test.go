package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobg/pit"
	"github.com/bobg/pit/store/mem"
	"github.com/bobg/pit/testutil"
)

func TestStore(t *testing.T) {
	buf := new(bytes.Buffer)
	s := NewWithLogger(mem.New(), zerolog.New(buf).Level(zerolog.TraceLevel))

	ctx := context.Background()
	testutil.ReadWrite(ctx, t, s, testutil.Data(100000))
	testutil.Anchors(ctx, t, s)

	out := buf.String()
	for _, want := range []string{`"message":"Put"`, `"message":"Get"`, `"message":"GetAnchor"`, `"component":"store"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output lacks %s", want)
		}
	}
}

func TestNotFoundIsNotAnError(t *testing.T) {
	buf := new(bytes.Buffer)
	s := NewWithLogger(mem.New(), zerolog.New(buf).Level(zerolog.ErrorLevel))

	_, err := s.Get(context.Background(), pit.Ref{1})
	if err != pit.ErrNotFound {
		t.Fatalf("got %v, want %v", err, pit.ErrNotFound)
	}
	if buf.Len() != 0 {
		t.Errorf("missing blob logged at error level: %s", buf)
	}
}

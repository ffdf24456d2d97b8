package remote

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barindex"
)

func TestCommandRoundTrip(t *testing.T) {
	args := newEntityArgs{
		UUIDID:       barindex.IndexID{Kind: barindex.KindUUID, N: 7},
		ScheduleUUID: uuid.New(),
		Type:         barindex.EntityIncremental,
		Created:      time.Now().UTC(),
	}

	data, err := marshalCommand(opNewEntity, args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cmd, err := unmarshalCommand(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Op != opNewEntity {
		t.Fatalf("unexpected op: %s", cmd.Op)
	}

	var got newEntityArgs
	if err := msgpack.Unmarshal(cmd.Args, &got); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if got.UUIDID != args.UUIDID || got.ScheduleUUID != args.ScheduleUUID || got.Type != args.Type {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, args)
	}
}

func TestResultToError(t *testing.T) {
	var r result
	if err := r.toError(); err != nil {
		t.Fatalf("expected nil error for empty result, got %v", err)
	}
	r.Err = "boom"
	if err := r.toError(); err == nil || err.Error() != "boom" {
		t.Fatalf("unexpected error: %v", err)
	}
}

package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "nabavki-runs", map[string]string{"run_id": "r1"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "nabavki-discovery", "report")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "nabavki-runs" || msgs[1].Topic != "nabavki-discovery" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if string(msgs[0].Data) != `{"run_id":"r1"}` {
		t.Fatalf("unexpected encoded payload %s", msgs[0].Data)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("Messages must return a copy")
	}
}

type labeled struct {
	RunID string `json:"run_id"`
}

func (l labeled) Attributes() map[string]string {
	return map[string]string{"run_id": l.RunID}
}

func TestPublisherRecordsAttributesAndFiltersByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "nabavki-runs", labeled{RunID: "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := pub.Publish(context.Background(), "other", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	runs := pub.ByTopic("nabavki-runs")
	if len(runs) != 1 {
		t.Fatalf("expected 1 run message, got %d", len(runs))
	}
	if runs[0].Attributes["run_id"] != "r1" || runs[0].ID != "memory-1" {
		t.Fatalf("unexpected message %+v", runs[0])
	}
	if len(pub.ByTopic("other")[0].Attributes) != 0 {
		t.Fatal("plain payloads carry no attributes")
	}
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}

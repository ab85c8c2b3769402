package track

import "testing"

func TestImportFinishedEvent(t *testing.T) {
	p := ImportFinished{ImportID: "0190-abc", TreeID: 1, EntryCount: 2, NewCount: 1}
	ev, err := p.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev.ID != "0190-abc_done" {
		t.Errorf("ID = %q", ev.ID)
	}
	if ev.Name != EventImportFinished {
		t.Errorf("Name = %q", ev.Name)
	}
	want := `{"import_id":"0190-abc","tree_id":1,"entryCount":2,"newCount":1,"changedCount":0,"deletedCount":0}`
	if string(ev.Payload) != want {
		t.Errorf("Payload = %s, want %s", ev.Payload, want)
	}
}

func TestDecodeImportFinished(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p, err := DecodeImportFinished(Event{Name: EventImportFinished, Payload: []byte(`{"import_id":"x","tree_id":7}`)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.ImportID != "x" || p.TreeID != 7 {
			t.Errorf("got %+v", p)
		}
	})
	t.Run("malformed", func(t *testing.T) {
		if _, err := DecodeImportFinished(Event{Payload: []byte(`{`)}); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("missing id", func(t *testing.T) {
		if _, err := DecodeImportFinished(Event{Payload: []byte(`{"tree_id":7}`)}); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("other event", func(t *testing.T) {
		if _, err := DecodeImportFinished(Event{Name: "Other", Payload: []byte(`{"import_id":"x"}`)}); err == nil {
			t.Error("expected error")
		}
	})
}

package checkstate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/link"
)

func matchedResult() *link.Result {
	c := link.ConfidenceHigh
	score := 97
	title := "Spring sale"
	return &link.Result{
		Matched:    true,
		Confidence: &c,
		MatchScore: &score,
		Link:       &link.Data{ID: "lnk_1", SocialTitle: &title},
		IsDeferred: true,
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown install yields zero state", func(t *testing.T) {
		m := NewMemory()
		s, err := m.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if s.HasCheckedForDeferredDeepLink || s.CachedResult != nil {
			t.Errorf("Get() = %+v, want zero state", s)
		}
	})

	t.Run("put then get round trips", func(t *testing.T) {
		m := NewMemory()
		want := State{HasCheckedForDeferredDeepLink: true, CachedResult: matchedResult()}
		if err := m.Put(ctx, "a", want); err != nil {
			t.Fatalf("Put() unexpected error: %v", err)
		}

		got, err := m.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if !got.HasCheckedForDeferredDeepLink {
			t.Error("HasCheckedForDeferredDeepLink = false, want true")
		}
		if got.CachedResult == nil || got.CachedResult.Link.ID != "lnk_1" {
			t.Errorf("CachedResult = %+v", got.CachedResult)
		}
	})

	t.Run("stored state is isolated from callers", func(t *testing.T) {
		m := NewMemory()
		in := State{HasCheckedForDeferredDeepLink: true, CachedResult: matchedResult()}
		_ = m.Put(ctx, "a", in)
		in.CachedResult.Link.ID = "mutated"

		got, _ := m.Get(ctx, "a")
		got.CachedResult.Matched = false

		again, _ := m.Get(ctx, "a")
		if again.CachedResult.Link.ID != "lnk_1" || !again.CachedResult.Matched {
			t.Errorf("stored state was mutated: %+v", again.CachedResult)
		}
	})

	t.Run("delete clears both fields", func(t *testing.T) {
		m := NewMemory()
		_ = m.Put(ctx, "a", State{HasCheckedForDeferredDeepLink: true, CachedResult: matchedResult()})
		_ = m.Put(ctx, "b", State{HasCheckedForDeferredDeepLink: true})

		if err := m.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete() unexpected error: %v", err)
		}
		got, _ := m.Get(ctx, "a")
		if got.HasCheckedForDeferredDeepLink || got.CachedResult != nil {
			t.Errorf("Get() after Delete = %+v, want zero state", got)
		}
		if m.Len() != 1 {
			t.Errorf("Len() = %d, want 1", m.Len())
		}
	})
}

func TestFor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := For(m, "install-a")
	b := For(m, "install-b")

	if err := a.Save(ctx, State{HasCheckedForDeferredDeepLink: true}); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	sa, _ := a.Load(ctx)
	sb, _ := b.Load(ctx)
	if !sa.HasCheckedForDeferredDeepLink {
		t.Error("install-a should be checked")
	}
	if sb.HasCheckedForDeferredDeepLink {
		t.Error("install-b should not be affected")
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset() unexpected error: %v", err)
	}
	if sa, _ = a.Load(ctx); sa.HasCheckedForDeferredDeepLink {
		t.Error("install-a should be cleared after Reset")
	}
}

func TestResultCodec(t *testing.T) {
	t.Run("nil encodes to nil", func(t *testing.T) {
		b, err := EncodeResult(nil)
		if err != nil || b != nil {
			t.Errorf("EncodeResult(nil) = %q, %v", b, err)
		}
	})

	t.Run("empty and null decode to nil", func(t *testing.T) {
		for _, in := range []string{"", "null"} {
			r, err := DecodeResult([]byte(in))
			if err != nil || r != nil {
				t.Errorf("DecodeResult(%q) = %+v, %v", in, r, err)
			}
		}
	})

	t.Run("wire field names are used", func(t *testing.T) {
		b, err := EncodeResult(matchedResult())
		if err != nil {
			t.Fatalf("EncodeResult() unexpected error: %v", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(b, &raw); err != nil {
			t.Fatalf("stored form is not JSON: %v", err)
		}
		for _, key := range []string{"matched", "confidence", "match_score", "link", "is_deferred"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("stored form is missing %q: %s", key, b)
			}
		}

		r, err := DecodeResult(b)
		if err != nil {
			t.Fatalf("DecodeResult() unexpected error: %v", err)
		}
		if !r.IsDeferred || *r.MatchScore != 97 || *r.Link.SocialTitle != "Spring sale" {
			t.Errorf("decoded = %+v", r)
		}
	})

	t.Run("corrupt data is unavailable", func(t *testing.T) {
		_, err := DecodeResult([]byte(`{"matched":`))
		if got := errx.KindOf(err); got != errx.Unavailable {
			t.Errorf("error kind = %v, want Unavailable", got)
		}
	})
}

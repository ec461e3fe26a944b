package link

import (
	"encoding/json"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestEnrich(t *testing.T) {
	t.Run("overlays query parameters onto an unnamed link", func(t *testing.T) {
		got := Enrich("https://h/p?link=https://dest&st=Hello&efr=true", Data{ID: "x"})

		if got.ID != "x" {
			t.Errorf("ID = %q, want %q", got.ID, "x")
		}
		if got.URL == nil || *got.URL != "https://dest" {
			t.Errorf("URL = %v, want https://dest", got.URL)
		}
		if got.SocialTitle == nil || *got.SocialTitle != "Hello" {
			t.Errorf("SocialTitle = %v, want Hello", got.SocialTitle)
		}
		if got.EnableForcedRedirect == nil || !*got.EnableForcedRedirect {
			t.Errorf("EnableForcedRedirect = %v, want true", got.EnableForcedRedirect)
		}
		if got.SocialDescription != nil {
			t.Errorf("SocialDescription = %v, want nil", *got.SocialDescription)
		}
	})

	t.Run("maps every supported key", func(t *testing.T) {
		requestURL := "https://l.test/abc?link=https%3A%2F%2Fshop.test%2Fitem%3Fid%3D7" +
			"&st=Big+Sale&sd=Half%20off&si=https%3A%2F%2Fcdn.test%2Fi.png" +
			"&efr=false&afl=https%3A%2F%2Fplay.test&ifl=https%3A%2F%2Fapps.test" +
			"&referrer=newsletter&ide=true&unrelated=1"

		got := Enrich(requestURL, Data{ID: "abc"})

		checks := []struct {
			field string
			got   *string
			want  string
		}{
			{"URL", got.URL, "https://shop.test/item?id=7"},
			{"SocialTitle", got.SocialTitle, "Big Sale"},
			{"SocialDescription", got.SocialDescription, "Half off"},
			{"SocialImageURL", got.SocialImageURL, "https://cdn.test/i.png"},
			{"AndroidFallbackURL", got.AndroidFallbackURL, "https://play.test"},
			{"IOSFallbackURL", got.IOSFallbackURL, "https://apps.test"},
			{"Referrer", got.Referrer, "newsletter"},
		}
		for _, c := range checks {
			if c.got == nil || *c.got != c.want {
				t.Errorf("%s = %v, want %q", c.field, c.got, c.want)
			}
		}
		if got.EnableForcedRedirect == nil || *got.EnableForcedRedirect {
			t.Errorf("EnableForcedRedirect = %v, want false", got.EnableForcedRedirect)
		}
		if got.IOSDeferredDeepLinkingEnabled == nil || !*got.IOSDeferredDeepLinkingEnabled {
			t.Errorf("IOSDeferredDeepLinkingEnabled = %v, want true", got.IOSDeferredDeepLinkingEnabled)
		}
	})

	t.Run("keeps existing values for missing or undecodable keys", func(t *testing.T) {
		orig := Data{
			ID:                   "x",
			URL:                  ptr("https://server.test"),
			SocialTitle:          ptr("from server"),
			EnableForcedRedirect: ptr(true),
		}

		got := Enrich("https://h/p?st=%ZZ&efr=yes&sd=ok", orig)

		if *got.URL != "https://server.test" {
			t.Errorf("URL = %q, want server value", *got.URL)
		}
		if *got.SocialTitle != "from server" {
			t.Errorf("SocialTitle = %q, want server value", *got.SocialTitle)
		}
		if !*got.EnableForcedRedirect {
			t.Error("EnableForcedRedirect overwritten by non-boolean literal")
		}
		if got.SocialDescription == nil || *got.SocialDescription != "ok" {
			t.Errorf("SocialDescription = %v, want ok", got.SocialDescription)
		}
	})

	t.Run("strict boolean literals only", func(t *testing.T) {
		for _, v := range []string{"TRUE", "1", "yes", ""} {
			got := Enrich("https://h/p?efr="+v+"&ide="+v, Data{ID: "x"})
			if got.EnableForcedRedirect != nil || got.IOSDeferredDeepLinkingEnabled != nil {
				t.Errorf("value %q should be ignored", v)
			}
		}
	})

	t.Run("returns link unchanged", func(t *testing.T) {
		tests := []struct {
			name string
			url  string
			data Data
		}{
			{"named link", "https://h/p?st=ignored", Data{ID: "x", DeepLinkValue: ptr("promo")}},
			{"no query", "https://h/p", Data{ID: "x"}},
			{"unparsable url", "://bad url\x7f?st=x", Data{ID: "x"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := Enrich(tt.url, tt.data)
				if got.SocialTitle != nil {
					t.Errorf("SocialTitle = %q, want nil", *got.SocialTitle)
				}
			})
		}
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		title := "original"
		orig := Data{ID: "x", SocialTitle: &title}

		_ = Enrich("https://h/p?st=changed", orig)

		if title != "original" {
			t.Errorf("input title mutated to %q", title)
		}
	})
}

func TestResultJSON(t *testing.T) {
	t.Run("decodes wire fields", func(t *testing.T) {
		body := `{"matched":true,"confidence":"high","match_score":87,
			"link":{"id":"x","deep_link_value":"promo","shortened_path":"ab",
			"ios_deferred_deep_linking_enabled":false,"clicks":12}}`

		var r Result
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if !r.Matched || r.Confidence == nil || *r.Confidence != ConfidenceHigh {
			t.Errorf("unexpected result header: %+v", r)
		}
		if r.MatchScore == nil || *r.MatchScore != 87 {
			t.Errorf("MatchScore = %v, want 87", r.MatchScore)
		}
		if r.Link == nil || r.Link.ID != "x" || *r.Link.DeepLinkValue != "promo" || *r.Link.ShortenedPath != "ab" {
			t.Errorf("unexpected link: %+v", r.Link)
		}
		if r.Link.IOSDeferredDeepLinkingEnabled == nil || *r.Link.IOSDeferredDeepLinkingEnabled {
			t.Error("IOSDeferredDeepLinkingEnabled should decode to false")
		}
		if r.Link.Clicks == nil || *r.Link.Clicks != 12 {
			t.Errorf("Clicks = %v, want 12", r.Link.Clicks)
		}
	})

	t.Run("rejects unknown confidence", func(t *testing.T) {
		var r Result
		if err := json.Unmarshal([]byte(`{"matched":true,"confidence":"certain"}`), &r); err == nil {
			t.Fatal("Unmarshal() expected error for unknown confidence")
		}
	})

	t.Run("not matched omits link", func(t *testing.T) {
		b, err := json.Marshal(NotMatched(true))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if got, want := string(b), `{"matched":false,"is_deferred":true}`; got != want {
			t.Errorf("Marshal() = %s, want %s", got, want)
		}
	})
}

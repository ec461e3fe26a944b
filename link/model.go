// Package link holds the deep link data model shared by the attribution
// client, the check state stores and the resolver.
package link

import (
	"encoding/json"
	"fmt"
)

// Confidence grades how sure the attribution service is about a match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects values outside the known grades.
func (c *Confidence) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v := Confidence(s)
	if !v.Valid() {
		return fmt.Errorf("unknown confidence %q", s)
	}
	*c = v
	return nil
}

// Data describes a matched link. Only ID is guaranteed; every other field
// may be absent.
type Data struct {
	ID                            string  `json:"id"`
	Name                          *string `json:"name,omitempty"`
	Path                          *string `json:"path,omitempty"`
	ShortenedPath                 *string `json:"shortened_path,omitempty"`
	URL                           *string `json:"url,omitempty"`
	FullURL                       *string `json:"full_url,omitempty"`
	DeepLinkValue                 *string `json:"deep_link_value,omitempty"`
	AndroidFallbackURL            *string `json:"android_fallback_url,omitempty"`
	IOSFallbackURL                *string `json:"ios_fallback_url,omitempty"`
	EnableForcedRedirect          *bool   `json:"enable_forced_redirect,omitempty"`
	SocialTitle                   *string `json:"social_title,omitempty"`
	SocialDescription             *string `json:"social_description,omitempty"`
	SocialImageURL                *string `json:"social_image_url,omitempty"`
	Clicks                        *int64  `json:"clicks,omitempty"`
	Referrer                      *string `json:"referrer,omitempty"`
	ProviderToken                 *string `json:"provider_token,omitempty"`
	CampaignToken                 *string `json:"campaign_token,omitempty"`
	IOSDeferredDeepLinkingEnabled *bool   `json:"ios_deferred_deep_linking_enabled,omitempty"`
}

// Result is the outcome of one resolution. Link is set only when Matched.
//
// IsDeferred records whether the result came from a deferred (install
// referrer) check or a direct open. The attribution service does not send
// it; it is kept in the JSON form so cached results retain their origin.
type Result struct {
	Matched    bool        `json:"matched"`
	Confidence *Confidence `json:"confidence,omitempty"`
	MatchScore *int        `json:"match_score,omitempty"`
	Link       *Data       `json:"link,omitempty"`
	IsDeferred bool        `json:"is_deferred"`
}

// NotMatched returns a negative result.
func NotMatched(isDeferred bool) Result {
	return Result{Matched: false, IsDeferred: isDeferred}
}

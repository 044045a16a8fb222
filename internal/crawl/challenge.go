package crawl

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// challengeKeywords are lowercased body signatures of automated-access
// challenges and bot walls.
var challengeKeywords = [][]byte{
	[]byte("captcha"),
	[]byte("are you a robot"),
	[]byte("unusual traffic"),
	[]byte("access denied"),
	[]byte("cf-challenge"),
	[]byte("attention required"),
	[]byte("enable javascript and cookies to continue"),
}

// challengeTitles are page titles used by common challenge interstitials.
var challengeTitles = []string{
	"just a moment...",
	"attention required! | cloudflare",
	"access denied",
}

// ChallengeDetector classifies a response as an automated-access block. A
// 403/429 is always a block; otherwise the body is probed for challenge
// signatures so soft blocks served with a 200 are caught too.
type ChallengeDetector struct{}

// Blocked reports whether the response carries a block signature and a short
// reason for the snapshot's error detail.
func (ChallengeDetector) Blocked(statusCode int, body []byte) (bool, string) {
	switch statusCode {
	case http.StatusForbidden:
		return true, "http 403"
	case http.StatusTooManyRequests:
		return true, "http 429"
	}
	// Challenge interstitials are small; probing large documents would only
	// misfire on pages that merely talk about captchas.
	if len(body) == 0 || len(body) > 16<<10 {
		return false, ""
	}
	lower := bytes.ToLower(body)
	for _, kw := range challengeKeywords {
		if bytes.Contains(lower, kw) {
			return true, "challenge signature: " + string(kw)
		}
	}
	if title, ok := pageTitle(lower); ok {
		for _, t := range challengeTitles {
			if title == t {
				return true, "challenge title: " + title
			}
		}
	}
	return false, ""
}

func pageTitle(lowerBody []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(lowerBody))
	if err != nil {
		return "", false
	}
	title := doc.Find("title").First().Text()
	if title == "" {
		return "", false
	}
	return title, true
}

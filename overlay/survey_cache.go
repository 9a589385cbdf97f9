package overlay

import (
	lru "github.com/hashicorp/golang-lru"
)

// SurveyVerificationCache remembers, by nonce, whether a survey message's
// signature has already been checked, so the same signed SURVEY_REQUEST or
// SURVEY_RESPONSE forwarded to us by several peers is not re-verified every
// time. The overlay core never constructs one of these itself; a
// SurveyManager adapter owns it and passes the precomputed result in,
// keeping signature verification a collaborator concern.
type SurveyVerificationCache struct {
	cache *lru.Cache
}

// NewSurveyVerificationCache builds a cache bounded to size entries.
func NewSurveyVerificationCache(size int) (*SurveyVerificationCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &SurveyVerificationCache{cache: c}, nil
}

// CheckAndRemember returns the remembered verification result for nonce if
// present; otherwise it stores verified under nonce and returns it
// unchanged, so the first caller's verification outcome is authoritative.
func (c *SurveyVerificationCache) CheckAndRemember(nonce Hash, verified bool) bool {
	if v, ok := c.cache.Get(nonce); ok {
		return v.(bool)
	}
	c.cache.Add(nonce, verified)
	return verified
}

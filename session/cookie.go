package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lenxapp/onboard/endpoint"
)

// CookieStore implements Store over two sealed browser cookies: one for the
// in-flight attempt, one for the persisted record. It is request-scoped;
// construct one per request with the response writer the Set-Cookie headers
// should go to. Inside an endpoint handler, writes are deferred until just
// before the response headers are committed, so a store write cannot land
// after the renderer has started the response.
//
// A cookie that fails to open (wrong key, tampered, truncated) reads as
// absent rather than failing the request. The next successful write
// overwrites it.
type CookieStore struct {
	w http.ResponseWriter
	r *http.Request

	attempt *Cookie
	record  *Cookie

	attemptTTL time.Duration
	recordTTL  time.Duration
}

// NewCookieStore builds a request-scoped store from the two codecs. Zero
// TTLs fall back to DefaultAttemptTTL and DefaultRecordTTL.
func NewCookieStore(w http.ResponseWriter, r *http.Request, attempt, record *Cookie, attemptTTL, recordTTL time.Duration) (*CookieStore, error) {
	if w == nil || r == nil {
		return nil, errors.New("session: nil request or response writer")
	}
	if attempt == nil || record == nil {
		return nil, ErrCookieConfig
	}
	if attemptTTL <= 0 {
		attemptTTL = DefaultAttemptTTL
	}
	if recordTTL <= 0 {
		recordTTL = DefaultRecordTTL
	}
	return &CookieStore{
		w:          w,
		r:          r,
		attempt:    attempt,
		record:     record,
		attemptTTL: attemptTTL,
		recordTTL:  recordTTL,
	}, nil
}

// setCookie writes ck just before response headers go out when running
// inside an endpoint handler, so stores can keep writing after a renderer
// was chosen. Outside a handler the write happens immediately.
func (s *CookieStore) setCookie(ctx context.Context, ck *http.Cookie) {
	if endpoint.Defer(ctx, func(w http.ResponseWriter) { http.SetCookie(w, ck) }) {
		return
	}
	http.SetCookie(s.w, ck)
}

// SaveInFlight implements Store.
func (s *CookieStore) SaveInFlight(ctx context.Context, a Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	ck, err := s.attempt.Encode(a, int(s.attemptTTL/time.Second))
	if err != nil {
		return err
	}
	s.setCookie(ctx, ck)
	return nil
}

// LoadInFlight implements Store.
func (s *CookieStore) LoadInFlight(_ context.Context) (Attempt, bool, error) {
	ck, err := s.r.Cookie(s.attempt.Name())
	if err != nil {
		return Attempt{}, false, nil
	}
	var a Attempt
	if err := s.attempt.Decode(ck, &a); err != nil {
		return Attempt{}, false, nil
	}
	if !a.CreatedAt.IsZero() && time.Since(a.CreatedAt) > s.attemptTTL {
		return Attempt{}, false, nil
	}
	return a, true, nil
}

// ClearInFlight implements Store.
func (s *CookieStore) ClearInFlight(ctx context.Context) error {
	s.setCookie(ctx, s.attempt.Clear())
	return nil
}

// LoadRecord implements Store.
func (s *CookieStore) LoadRecord(_ context.Context) (Record, error) {
	ck, err := s.r.Cookie(s.record.Name())
	if err != nil {
		return Record{}, nil
	}
	var rec Record
	if err := s.record.Decode(ck, &rec); err != nil {
		return Record{}, nil
	}
	return rec, nil
}

// SaveRecord implements Store.
func (s *CookieStore) SaveRecord(ctx context.Context, rec Record) error {
	ck, err := s.record.Encode(rec, int(s.recordTTL/time.Second))
	if err != nil {
		return err
	}
	s.setCookie(ctx, ck)
	return nil
}

var _ Store = (*CookieStore)(nil)

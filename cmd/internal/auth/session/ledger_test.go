package session

import (
	"testing"
	"time"
)

func TestClassifyRecord(t *testing.T) {
	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)

	cases := []struct {
		name string
		rec  Record
		want refreshState
	}{
		{
			name: "live",
			rec:  Record{ExpiresAt: now.Add(time.Hour)},
			want: refreshValid,
		},
		{
			name: "expired",
			rec:  Record{ExpiresAt: now.Add(-time.Second)},
			want: refreshExpired,
		},
		{
			name: "revoked",
			rec:  Record{Revoked: true, RevokedAt: &revokedAt, ExpiresAt: now.Add(time.Hour)},
			want: refreshReuse,
		},
		{
			// Replaying a rotated-away token is reuse even after it expires.
			name: "revoked and expired",
			rec:  Record{Revoked: true, RevokedAt: &revokedAt, ExpiresAt: now.Add(-time.Hour)},
			want: refreshReuse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyRecord(tc.rec, now); got != tc.want {
				t.Fatalf("classifyRecord = %v, want %v", got, tc.want)
			}
		})
	}
}

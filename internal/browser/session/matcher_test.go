package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBarrage(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		method string
		want   bool
	}{
		{
			name:   "canonical get",
			url:    "https://m10.iyf.tv/v3/comment/getBarrage?id=123&t=0",
			method: "GET",
			want:   true,
		},
		{
			name:   "post accepted",
			url:    "https://m10.iyf.tv/v3/comment/getBarrage",
			method: "POST",
			want:   true,
		},
		{
			name:   "different host still matches",
			url:    "https://api.example.com/other/getBarrage",
			method: "GET",
			want:   true,
		},
		{
			name:   "endpoint as query value only",
			url:    "https://m10.iyf.tv/v3/comment/list?api=getBarrage",
			method: "GET",
			want:   false,
		},
		{
			name:   "endpoint as path prefix",
			url:    "https://m10.iyf.tv/v3/getBarrageConfig",
			method: "GET",
			want:   false,
		},
		{
			name:   "case differs",
			url:    "https://m10.iyf.tv/v3/comment/getbarrage",
			method: "GET",
			want:   false,
		},
		{
			name:   "options preflight ignored",
			url:    "https://m10.iyf.tv/v3/comment/getBarrage",
			method: "OPTIONS",
			want:   false,
		},
		{
			name:   "unparseable url",
			url:    "http://%zz",
			method: "GET",
			want:   false,
		},
		{
			name:   "unrelated asset",
			url:    "https://www.iyf.tv/static/player.js",
			method: "GET",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchBarrage(tt.url, tt.method))
		})
	}
}

package identity

import (
	"testing"

	"github.com/dxcp-labs/dxcp/internal/models"
)

func TestMatchPublisher(t *testing.T) {
	ci := models.Principal{
		Subject:         "ci@pipelines",
		Email:           "ci@example.com",
		Issuer:          "https://id.example.com/",
		Audience:        "dxcp-api",
		AuthorizedParty: "ci-client",
	}

	tests := []struct {
		name       string
		publishers []models.CIPublisher
		want       bool
	}{
		{
			name: "full field match",
			publishers: []models.CIPublisher{{
				ID:              "pub-1",
				Issuer:          "https://id.example.com/",
				Audience:        "dxcp-api",
				AuthorizedParty: "ci-client",
				Subject:         "ci@pipelines",
				Email:           "ci@example.com",
			}},
			want: true,
		},
		{
			name: "subset match on azp only",
			publishers: []models.CIPublisher{{
				ID:              "pub-2",
				AuthorizedParty: "ci-client",
			}},
			want: true,
		},
		{
			name: "one field mismatch rejects the entry",
			publishers: []models.CIPublisher{{
				ID:              "pub-3",
				AuthorizedParty: "ci-client",
				Subject:         "someone-else",
			}},
			want: false,
		},
		{
			name:       "empty list matches nobody",
			publishers: nil,
			want:       false,
		},
		{
			name: "second entry matches",
			publishers: []models.CIPublisher{
				{ID: "pub-4", Subject: "someone-else"},
				{ID: "pub-5", Subject: "ci@pipelines"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchPublisher(tt.publishers, ci)
			if (got != nil) != tt.want {
				t.Errorf("MatchPublisher = %v, want match=%v", got, tt.want)
			}
		})
	}
}

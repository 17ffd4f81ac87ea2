package domain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanedArtifactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "level suffix replaced",
			input: "/data/raw/lille/20200101_20201231_Lille_lev15.aod",
			want:  "/data/organized/lille/20200101_20201231_Lille.lev15_aod_v01",
		},
		{
			name:  "type suffix only",
			input: "/data/raw/Lille.aod",
			want:  "/data/organized/Lille.lev15_aod_v01",
		},
		{
			name:  "foreign extension kept in stem",
			input: "/data/raw/Lille.csv",
			want:  "/data/organized/Lille.csv.lev15_aod_v01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanedArtifactPath(filepath.FromSlash(tt.input), "/data/raw", "/data/organized", "aod", "lev15")
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		a, _ := CleanedArtifactPath("/data/raw/x_lev15.ssa", "/data/raw", "/o", "ssa", "lev15")
		b, _ := CleanedArtifactPath("/data/raw/x_lev15.ssa", "/data/raw/", "/o", "ssa", "lev15")
		assert.Equal(t, a, b)
	})

	t.Run("outside raw dir", func(t *testing.T) {
		_, err := CleanedArtifactPath("/elsewhere/Lille.aod", "/data/raw", "/data/organized", "aod", "lev15")
		assert.Error(t, err)
	})
}

func TestStageArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("merged", "Lille.lev15_merged_v02"), StageArtifactPath("merged", "Lille", "lev15", "merged", 2))
	assert.Equal(t, "Lille.lev15_derived_v03", StageArtifactName("Lille", "lev15", "derived", 3))
}

package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanedArtifactPath maps a raw input file to its cleaned artifact. The
// path relative to rawDir is mirrored under outputDir, and the trailing
// "_<level>.<type>" (or ".<type>") of the file name is replaced by
// ".<level>_<type>_v01". The result depends only on the five arguments.
func CleanedArtifactPath(inputPath, rawDir, outputDir, productType, level string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(rawDir), filepath.Clean(inputPath))
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("artifact path: %s is not inside %s", inputPath, rawDir)
	}
	dir, base := filepath.Split(rel)

	stem := base
	if s, ok := strings.CutSuffix(stem, "_"+level+"."+productType); ok && level != "" {
		stem = s
	} else if s, ok := strings.CutSuffix(stem, "."+productType); ok {
		stem = s
	}
	if stem == "" {
		return "", fmt.Errorf("artifact path: %s has an empty stem", inputPath)
	}
	return filepath.Join(outputDir, dir, StageArtifactName(stem, level, productType, 1)), nil
}

// StageArtifactName returns "<label>.<level>_<stage>_v<NN>".
func StageArtifactName(label, level, stage string, version int) string {
	return fmt.Sprintf("%s.%s_%s_v%02d", label, level, stage, version)
}

// StageArtifactPath places a stage artifact under dir.
func StageArtifactPath(dir, label, level, stage string, version int) string {
	return filepath.Join(dir, StageArtifactName(label, level, stage, version))
}

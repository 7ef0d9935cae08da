package evo

import (
	"crypto/sha256"
	"encoding/hex"

	"evotree/internal/tree"
)

// Fingerprint is a stable structural hash of a tree, used to count distinct
// individuals.
func Fingerprint(t *tree.Tree) string {
	sum := sha256.Sum256([]byte(t.SExpr()))
	return hex.EncodeToString(sum[:8])
}

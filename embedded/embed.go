package embedded

import (
	_ "embed"
)

//go:embed boards.txt
var boardsTxt []byte

// BoardsTxt returns the built-in board database, used when no SDK
// copy of boards.txt can be found.
func BoardsTxt() []byte {
	return boardsTxt
}
